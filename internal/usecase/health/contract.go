package health

import "context"

// Pinger checks availability of a FHIR server by base URL.
type Pinger interface {
	Ping(ctx context.Context, baseURL string) error
}
