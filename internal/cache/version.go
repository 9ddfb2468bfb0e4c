// Package cache manages the on-disk version.xml cache: the iTunes
// device/build catalog used to resolve "latest firmware for this
// product" when no explicit IPSW path is given.
package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/Trsvsr/idevicererestore/internal/download"
)

// versionCheckURL is the legacy endpoint idevicerestore polls; it
// serves the same MobileDeviceSoftwareVersionsByVersion document shape
// as the modern MZITunesClientCheck endpoint.
const versionCheckURL = "http://itunes.apple.com/check/version"

// maxAge is how long a cached version.xml is considered fresh.
const maxAge = 24 * time.Hour

// Document is the decoded version.xml catalog.
type Document struct {
	MobileDeviceSoftwareVersionsByVersion map[string]struct {
		MobileDeviceSoftwareVersions map[string]map[string]struct {
			Restore *struct {
				BuildVersion   string
				ProductVersion string
				FirmwareURL    string
				FirmwareSHA1   string
			}
		}
	}
}

func path(cacheDir string) string {
	return filepath.Join(cacheDir, "version.xml")
}

// Load returns the cached version.xml document, fetching and caching a
// fresh copy if the cached file is absent or older than maxAge. A
// cached file that fails to parse is deleted, and Load reports that
// failure rather than silently refetching.
func Load(cacheDir string) (*Document, error) {
	if cacheDir == "" {
		return fetch()
	}

	p := path(cacheDir)
	if info, err := os.Stat(p); err == nil {
		if time.Since(info.ModTime()) < maxAge {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			doc, err := decode(data)
			if err != nil {
				os.Remove(p)
				return nil, fmt.Errorf("cached version.xml failed to parse, removed: %w", err)
			}
			log.WithField("path", p).Debug("using cached version.xml")
			return doc, nil
		}
	}

	doc, data, err := fetchRaw()
	if err != nil {
		return nil, err
	}

	if err := writeAtomic(p, data); err != nil {
		return doc, nil
	}

	return doc, nil
}

func writeAtomic(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func fetch() (*Document, error) {
	doc, _, err := fetchRaw()
	return doc, err
}

func fetchRaw() (*Document, []byte, error) {
	client := &http.Client{
		Transport: &http.Transport{Proxy: download.GetProxy("")},
	}
	resp, err := client.Get(versionCheckURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to fetch version.xml")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read version.xml response")
	}

	doc, err := decode(data)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

func decode(data []byte) (*Document, error) {
	var doc Document
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode version.xml: %w", err)
	}
	return &doc, nil
}

// LatestVersionFor returns the ProductVersion/BuildVersion/FirmwareURL
// of the newest restore entry for product, or an error if none exist.
// Candidates are ordered by parsed ProductVersion (via go-version),
// not by comparing build strings lexically, since build IDs don't sort
// correctly across major version boundaries (e.g. "9A100" vs "10A100").
func (d *Document) LatestVersionFor(product string) (version, build, url string, err error) {
	var best *goversion.Version
	for _, wrapper := range d.MobileDeviceSoftwareVersionsByVersion {
		builds, ok := wrapper.MobileDeviceSoftwareVersions[product]
		if !ok {
			continue
		}
		for _, info := range builds {
			if info.Restore == nil {
				continue
			}
			v, verr := goversion.NewVersion(info.Restore.ProductVersion)
			if verr != nil {
				continue
			}
			if best == nil || v.GreaterThan(best) {
				best = v
				version = info.Restore.ProductVersion
				build = info.Restore.BuildVersion
				url = info.Restore.FirmwareURL
			}
		}
	}
	if best == nil {
		return "", "", "", fmt.Errorf("no restore entries found for product %s", product)
	}
	return version, build, url, nil
}
