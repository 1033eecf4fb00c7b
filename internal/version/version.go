// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// UserAgent renders "product/version" for outbound FHIR requests.
// An empty product yields "fedsearch/version".
func UserAgent(product string) string {
	if product == "" {
		product = "fedsearch"
	}
	return product + "/" + Version
}
