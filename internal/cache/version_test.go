package cache

import "testing"

func TestLatestVersionForPicksNumericallyNewestVersion(t *testing.T) {
	var doc Document
	doc.MobileDeviceSoftwareVersionsByVersion = map[string]struct {
		MobileDeviceSoftwareVersions map[string]map[string]struct {
			Restore *struct {
				BuildVersion   string
				ProductVersion string
				FirmwareURL    string
				FirmwareSHA1   string
			}
		}
	}{
		"9.3.6": {
			MobileDeviceSoftwareVersions: map[string]map[string]struct {
				Restore *struct {
					BuildVersion   string
					ProductVersion string
					FirmwareURL    string
					FirmwareSHA1   string
				}
			}{
				"iPhone5,2": {
					"13G37": {
						Restore: &struct {
							BuildVersion   string
							ProductVersion string
							FirmwareURL    string
							FirmwareSHA1   string
						}{BuildVersion: "13G37", ProductVersion: "9.3.6", FirmwareURL: "http://example.com/9.3.6.ipsw"},
					},
				},
			},
		},
		"10.0.1": {
			MobileDeviceSoftwareVersions: map[string]map[string]struct {
				Restore *struct {
					BuildVersion   string
					ProductVersion string
					FirmwareURL    string
					FirmwareSHA1   string
				}
			}{
				"iPhone5,2": {
					"14A403": {
						Restore: &struct {
							BuildVersion   string
							ProductVersion string
							FirmwareURL    string
							FirmwareSHA1   string
						}{BuildVersion: "14A403", ProductVersion: "10.0.1", FirmwareURL: "http://example.com/10.0.1.ipsw"},
					},
				},
			},
		},
	}

	version, build, url, err := doc.LatestVersionFor("iPhone5,2")
	if err != nil {
		t.Fatalf("LatestVersionFor() error = %v", err)
	}
	// A lexical comparison of ProductVersion strings would have picked
	// "9.3.6"/"13G37" here, since "9" > "1" as a byte. Parsed-version
	// comparison must pick the numerically newer 10.0.1 release instead.
	if version != "10.0.1" || build != "14A403" || url != "http://example.com/10.0.1.ipsw" {
		t.Errorf("LatestVersionFor() = %q, %q, %q, want 10.0.1, 14A403, http://example.com/10.0.1.ipsw", version, build, url)
	}
}

func TestLatestVersionForNoEntries(t *testing.T) {
	var doc Document
	if _, _, _, err := doc.LatestVersionFor("iPhone5,2"); err == nil {
		t.Errorf("LatestVersionFor() on empty document expected error, got nil")
	}
}
