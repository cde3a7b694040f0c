package core

import "strings"

// templateSample is the example row shipped with the template.
var templateSample = []string{"Jane Doe", "9876543210", "jane@example.com", "Bengaluru", "Karnataka", "Acme Labs"}

// TemplateCSV returns the import template: the header line and one example
// row for role. The Organization column carries the firm name for
// investors and is optional for every role.
func TemplateCSV(role Role) []byte {
	sample := append([]string(nil), templateSample...)
	if role == RoleInvestor {
		sample[len(sample)-1] = "Acme Ventures"
	}
	return []byte(TemplateHeader + "\n" + strings.Join(sample, ",") + "\n")
}

// TemplateFileName is the download name for role's template.
func TemplateFileName(role Role) string {
	return string(role) + "_import_template.csv"
}
