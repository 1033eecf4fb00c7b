package federation

import (
	"fmt"
	"unicode/utf8"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/request"
)

// idParam is the FHIR search parameter used to forward instance reads.
const idParam = "_id"

// Translator copies an inbound request into a peer query without remapping
// parameter names or value formats.
type Translator struct {
	singleValue bool
}

// NewTranslator creates a translator. FHIR accepts repeated parameters, so all
// values are forwarded unless singleValue is set, which keeps only the first.
func NewTranslator(singleValue bool) *Translator {
	return &Translator{singleValue: singleValue}
}

// Translate builds the query sent to target.
func (t *Translator) Translate(req *request.Request, target peer.Endpoint) (query.Query, error) {
	if req == nil {
		return query.Query{}, fmt.Errorf("%w: nil request", domain.ErrInvalidQuery)
	}
	rt := req.ResourceType()
	if rt == "" {
		return query.Query{}, fmt.Errorf("%w: resource type is required", domain.ErrInvalidQuery)
	}

	params := req.Params()
	for name, values := range params {
		if name == "" {
			return query.Query{}, fmt.Errorf("%w: empty parameter name", domain.ErrInvalidQuery)
		}
		for _, v := range values {
			if !utf8.ValidString(v) {
				return query.Query{}, fmt.Errorf("%w: parameter %q is not valid UTF-8", domain.ErrInvalidQuery, name)
			}
		}
		if t.singleValue && len(values) > 1 {
			params[name] = values[:1]
		}
	}

	if id := req.ID(); id != "" && len(params[idParam]) == 0 {
		params.Set(idParam, id)
	}

	return query.New(target, rt, params), nil
}
