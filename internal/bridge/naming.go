package bridge

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/utils"
)

var (
	sapServicePattern = regexp.MustCompile(`/sap/opu/odata/(?:sap/)?([A-Za-z0-9_]+)`)
	svcPattern        = regexp.MustCompile(`/([A-Za-z0-9_]+)\.svc`)
	odataPathPattern  = regexp.MustCompile(`/odata/([A-Za-z0-9_]+)`)
)

// DeriveServiceID produces the short stable token appended to tool names so
// multiple bridges in one client stay unambiguous. Priority: the SAP gateway
// service name, then a .svc basename, then a generic /odata/<Name> segment,
// then the host with dots flattened.
func DeriveServiceID(serviceURL string) string {
	if m := sapServicePattern.FindStringSubmatch(serviceURL); len(m) > 1 {
		return m[1]
	}
	if m := svcPattern.FindStringSubmatch(serviceURL); len(m) > 1 {
		return m[1] + "_svc"
	}
	if m := odataPathPattern.FindStringSubmatch(serviceURL); len(m) > 1 {
		return m[1]
	}
	if parsed, err := url.Parse(serviceURL); err == nil && parsed.Host != "" {
		host := parsed.Hostname()
		return strings.ReplaceAll(host, ".", "_")
	}
	return "odata"
}

// formatToolName builds the final qualified tool name: base name, then the
// service identifier as suffix (default) or prefix, with custom overrides
// taking the identifier's place, then optional shrinking.
func (b *Bridge) formatToolName(operation, entityName string) string {
	name := operation
	if entityName != "" {
		name = operation + "_" + entityName
	}

	if b.config.UsePostfix() {
		if b.config.ToolPostfix != "" {
			name = name + "_" + b.config.ToolPostfix
		} else {
			name = name + "_for_" + b.serviceID
		}
	} else {
		if b.config.ToolPrefix != "" {
			name = b.config.ToolPrefix + "_" + name
		} else {
			name = b.serviceID + "_" + name
		}
	}

	if b.config.ToolShrink {
		name = utils.ShrinkName(name, constants.MaxToolNameLength)
	}
	return name
}
