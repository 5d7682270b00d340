package catalog

import (
	"strings"

	"github.com/go-faster/errors"
)

// VendorBackend resolves the shop name of a vendor from author meta.
type VendorBackend interface {
	Name() string
	ShopName(a Author) string
}

type metaBackend struct {
	name string
	keys []string
}

func (b metaBackend) Name() string { return b.name }

// ShopName returns the first non-empty meta value in priority order.
func (b metaBackend) ShopName(a Author) string {
	for _, k := range b.keys {
		if v := strings.TrimSpace(a.Meta[k]); v != "" {
			return v
		}
	}
	return ""
}

var vendorBackends = map[string]metaBackend{
	"auto":      {name: "auto", keys: []string{"pv_shop_name", "dokan_store_name", "_wcv_store_name"}},
	"wcvendors": {name: "wcvendors", keys: []string{"pv_shop_name", "_wcv_store_name"}},
	"dokan":     {name: "dokan", keys: []string{"dokan_store_name"}},
	"wcfm":      {name: "wcfm", keys: []string{"_wcfm_store_name", "store_name"}},
}

// VendorBackendFor returns the backend registered under name. An empty name
// selects "auto".
func VendorBackendFor(name string) (VendorBackend, error) {
	if name == "" {
		name = "auto"
	}
	b, ok := vendorBackends[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown vendor backend %q", name)
	}
	return b, nil
}
