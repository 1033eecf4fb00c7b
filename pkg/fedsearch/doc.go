// Package fedsearch embeds federated FHIR search into a Go host server.
//
// A host that serves FHIR searches calls two hooks around its own request
// processing. OnPreHandle fans an eligible search out to every configured peer
// concurrently and parks the outcomes in a request-scoped scratch space.
// OnResponse merges the successful peer results into the host's local result.
// Peer failures never reach the caller: a failed or slow peer contributes no
// entries and the local result is always preserved.
//
//	fs, _ := fedsearch.New(
//	    fedsearch.WithPeer("fetal", "http://fetal:8080/fhir", 1),
//	    fedsearch.WithPeer("maternal", "http://maternal:8080/fhir", 2),
//	    fedsearch.WithResourceTypes("Patient"),
//	    fedsearch.WithPeerTimeout(3*time.Second),
//	)
//
//	req := fedsearch.NewRequest(r.Method, "/Patient", r.URL.Query())
//	merged, err := fs.Search(ctx, &req, localSearch)
//
// Search runs both hooks around a caller-supplied local search. Hosts with
// their own request lifecycle call OnPreHandle and OnResponse directly,
// passing the same Scratch to both.
package fedsearch
