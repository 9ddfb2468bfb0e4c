package restore

import "fmt"

// deviceKeyToProductType is a static CPID:BDID to product-type lookup,
// the same role libirecovery's irecv_devices table plays in the
// original: a DFU or Recovery mode device never reports a product
// type directly over USB, only the CPID/BDID pair from its serial
// string, so identify_device() has to map it. Lockdownd's GetValue
// reply in Normal mode already carries ProductType directly and
// bypasses this table entirely.
//
// The BDID values below are representative placeholders for the A6
// family this project targets (iPhone5,x / iPad3,4-6); the full
// libirecovery catalog runs to hundreds of entries across every chip
// generation, which is out of scope here.
var deviceKeyToProductType = map[string]string{
	"8950:0": "iPhone5,1",
	"8950:1": "iPhone5,2",
	"8950:2": "iPhone5,3",
	"8950:3": "iPhone5,4",
	"8950:4": "iPad3,4",
	"8950:5": "iPad3,5",
	"8950:6": "iPad3,6",
}

// LookupProductType resolves a CPID:BDID device key, as returned by a
// DFU/Recovery-mode Device Query's ReadHardwareModel, to its product
// type.
func LookupProductType(deviceKey string) (string, error) {
	pt, ok := deviceKeyToProductType[deviceKey]
	if !ok {
		return "", fmt.Errorf("unknown device key %q", deviceKey)
	}
	return pt, nil
}
