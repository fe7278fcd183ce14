package natsx

import (
	"cmp"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
)

// ClientName is the connection name reported to the NATS server.
const ClientName = "workforce"

// NewClient connects to url, falling back to the NATS_URL environment
// variable and then nats.DefaultURL. Without explicit options the connection
// is named and compressed.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name(ClientName), nats.Compression(true))
	}
	url = cmp.Or(url, os.Getenv("NATS_URL"), nats.DefaultURL)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsx: connect %s: %w", url, err)
	}
	return nc, nil
}
