//go:build !consul

package progress

import "log"

// NewConsul falls back to the sqlite store when the consul build tag is not
// enabled.
func NewConsul(addr, dir string) (Store, error) {
	log.Printf("consul store requested but binary built without -tags consul; using sqlite in %s", dir)
	return Open(dir)
}
