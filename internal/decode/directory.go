package decode

import (
	"fmt"

	"github.com/setevik/eventwatch/internal/event"
)

// operationLabels translates the 5136 OperationType message codes.
var operationLabels = map[string]string{
	"%%14674": "Value Added",
	"%%14675": "Value Deleted",
}

// DSChange is a decoded 5136 "directory service object was modified" event.
type DSChange struct {
	Header
	OpCorrelationID  string  `json:"op_correlation_id"`
	AppCorrelationID string  `json:"app_correlation_id"`
	Subject          Subject `json:"subject"`
	DSName           string  `json:"ds_name"`
	DSType           string  `json:"ds_type"`
	ObjectDN         string  `json:"object_dn"`
	ObjectGUID       string  `json:"object_guid"`
	ObjectClass      string  `json:"object_class"`
	Attribute        string  `json:"attribute"`
	AttributeSyntax  string  `json:"attribute_syntax_oid"`
	AttributeValue   string  `json:"attribute_value"`
	OperationType    string  `json:"operation_type"`
}

func (d *DSChange) Summary() string {
	return fmt.Sprintf("%s: %s %s = %s", d.ObjectDN, d.OperationType, d.Attribute, d.AttributeValue)
}

// DirectoryChange decodes event 5136.
//
//	0 OpCorrelationID  1 AppCorrelationID  2..5 subject  6 DSName  7 DSType
//	8 ObjectDN  9 ObjectGUID  10 ObjectClass  11 AttributeLDAPDisplayName
//	12 AttributeSyntaxOID  13 AttributeValue  14 OperationType
func DirectoryChange(r event.Record) (*DSChange, bool) {
	if r.EventCode != CodeDirectoryChange {
		return nil, false
	}
	return &DSChange{
		Header:           header(r),
		OpCorrelationID:  r.Insertion(0),
		AppCorrelationID: r.Insertion(1),
		Subject:          subjectAt(r, 2),
		DSName:           r.Insertion(6),
		DSType:           r.Insertion(7),
		ObjectDN:         r.Insertion(8),
		ObjectGUID:       r.Insertion(9),
		ObjectClass:      r.Insertion(10),
		Attribute:        r.Insertion(11),
		AttributeSyntax:  r.Insertion(12),
		AttributeValue:   r.Insertion(13),
		OperationType:    OperationLabel(r.Insertion(14)),
	}, true
}

// OperationLabel maps an OperationType code to its label. Unknown values
// are returned unchanged.
func OperationLabel(code string) string {
	if label, ok := operationLabels[code]; ok {
		return label
	}
	return code
}
