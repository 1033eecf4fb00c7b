package fedsearch

import (
	"encoding/json"
	"time"

	"github.com/kailas-cloud/fedsearch/internal/transport/fhir"
)

// DecodeBundle converts a FHIR Bundle JSON document into a result set.
func DecodeBundle(data []byte) (ResultSet, error) {
	b, err := fhir.DecodeBundle(data)
	if err != nil {
		return ResultSet{}, err
	}
	return b.Set(), nil
}

// EncodeSearchset renders set as a fresh searchset Bundle. With tagSource,
// peer entries get resource.meta.source set to their peer name.
func EncodeSearchset(set ResultSet, tagSource bool) ([]byte, error) {
	return json.Marshal(fhir.Searchset(nil, set, tagSource, time.Now()))
}
