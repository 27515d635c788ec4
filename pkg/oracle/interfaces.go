package oracle

import "net/http"

//go:generate mockgen -destination=mock_oracle.go -package=oracle github.com/sensorgrid/pipeline/pkg/oracle HTTPDoer

// HTTPDoer is the outbound HTTP surface, satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
