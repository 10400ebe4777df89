package decode

import (
	"fmt"

	"github.com/setevik/eventwatch/internal/event"
)

// Lockout is a decoded 4740 "user account was locked out" event.
type Lockout struct {
	Header
	Target         Account `json:"target"`
	CallerComputer string  `json:"caller_computer"`
	Subject        Subject `json:"subject"`
}

func (l *Lockout) Summary() string {
	return fmt.Sprintf("account %s locked out (caller %s)", l.Target.UserName, l.CallerComputer)
}

// AccountLockout decodes event 4740.
//
//	0 TargetUserName  1 TargetDomainName (caller computer)  2 TargetSid
//	3..6 subject
func AccountLockout(r event.Record) (*Lockout, bool) {
	if r.EventCode != CodeAccountLockout {
		return nil, false
	}
	return &Lockout{
		Header: header(r),
		Target: Account{
			UserName: r.Insertion(0),
			Sid:      r.Insertion(2),
		},
		CallerComputer: r.Insertion(1),
		Subject:        subjectAt(r, 3),
	}, true
}

// Attributes are the user attributes reported by 4720 and 4738.
type Attributes struct {
	SamAccountName      string `json:"sam_account_name"`
	DisplayName         string `json:"display_name"`
	UserPrincipalName   string `json:"user_principal_name"`
	HomeDirectory       string `json:"home_directory"`
	HomePath            string `json:"home_path"`
	ScriptPath          string `json:"script_path"`
	ProfilePath         string `json:"profile_path"`
	UserWorkstations    string `json:"user_workstations"`
	PasswordLastSet     string `json:"password_last_set"`
	AccountExpires      string `json:"account_expires"`
	PrimaryGroupID      string `json:"primary_group_id"`
	AllowedToDelegateTo string `json:"allowed_to_delegate_to"`
	OldUACValue         string `json:"old_uac_value"`
	NewUACValue         string `json:"new_uac_value"`
	UserAccountControl  string `json:"user_account_control"`
	UserParameters      string `json:"user_parameters"`
	SIDHistory          string `json:"sid_history"`
	LogonHours          string `json:"logon_hours"`
}

func attributesAt(r event.Record, i int) Attributes {
	return Attributes{
		SamAccountName:      r.Insertion(i),
		DisplayName:         r.Insertion(i + 1),
		UserPrincipalName:   r.Insertion(i + 2),
		HomeDirectory:       r.Insertion(i + 3),
		HomePath:            r.Insertion(i + 4),
		ScriptPath:          r.Insertion(i + 5),
		ProfilePath:         r.Insertion(i + 6),
		UserWorkstations:    r.Insertion(i + 7),
		PasswordLastSet:     r.Insertion(i + 8),
		AccountExpires:      r.Insertion(i + 9),
		PrimaryGroupID:      r.Insertion(i + 10),
		AllowedToDelegateTo: r.Insertion(i + 11),
		OldUACValue:         r.Insertion(i + 12),
		NewUACValue:         r.Insertion(i + 13),
		UserAccountControl:  r.Insertion(i + 14),
		UserParameters:      r.Insertion(i + 15),
		SIDHistory:          r.Insertion(i + 16),
		LogonHours:          r.Insertion(i + 17),
	}
}

// AccountChange is a decoded 4720 (created) or 4738 (changed) event.
type AccountChange struct {
	Header
	Action        string     `json:"action"`
	Target        Account    `json:"target"`
	Subject       Subject    `json:"subject"`
	PrivilegeList string     `json:"privilege_list"`
	Attributes    Attributes `json:"attributes"`
}

func (a *AccountChange) Summary() string {
	return fmt.Sprintf("account %s\\%s %s by %s\\%s",
		a.Target.Domain, a.Target.UserName, a.Action, a.Subject.Domain, a.Subject.UserName)
}

// AccountCreated decodes event 4720.
//
//	0..2 target  3..6 subject  7 PrivilegeList  8..25 attributes
func AccountCreated(r event.Record) (*AccountChange, bool) {
	if r.EventCode != CodeAccountCreated {
		return nil, false
	}
	return accountChange(r, "created", 0), true
}

// AccountChanged decodes event 4738. Position 0 is reserved, so every
// field sits one slot later than in 4720.
func AccountChanged(r event.Record) (*AccountChange, bool) {
	if r.EventCode != CodeAccountChanged {
		return nil, false
	}
	return accountChange(r, "changed", 1), true
}

func accountChange(r event.Record, action string, base int) *AccountChange {
	return &AccountChange{
		Header:        header(r),
		Action:        action,
		Target:        accountAt(r, base),
		Subject:       subjectAt(r, base+3),
		PrivilegeList: r.Insertion(base + 7),
		Attributes:    attributesAt(r, base+8),
	}
}

// AccountDeletion is a decoded 4726 event.
type AccountDeletion struct {
	Header
	Target        Account `json:"target"`
	Subject       Subject `json:"subject"`
	PrivilegeList string  `json:"privilege_list"`
}

func (a *AccountDeletion) Summary() string {
	return fmt.Sprintf("account %s\\%s deleted by %s\\%s",
		a.Target.Domain, a.Target.UserName, a.Subject.Domain, a.Subject.UserName)
}

// AccountDeleted decodes event 4726.
//
//	0..2 target  3..6 subject  7 PrivilegeList
func AccountDeleted(r event.Record) (*AccountDeletion, bool) {
	if r.EventCode != CodeAccountDeleted {
		return nil, false
	}
	return &AccountDeletion{
		Header:        header(r),
		Target:        accountAt(r, 0),
		Subject:       subjectAt(r, 3),
		PrivilegeList: r.Insertion(7),
	}, true
}
