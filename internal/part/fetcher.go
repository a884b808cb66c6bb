package part

import "context"

// Fetcher is the inter-replica bulk-transfer client (spec.md §2 item 3):
// downloads a named part from a peer replica's IO endpoint. External to
// the core except for this interface; the real byte-level column transfer
// mechanism is out of scope (spec.md §1).
type Fetcher interface {
	FetchPart(ctx context.Context, host string, port int, name string) (Part, error)
}
