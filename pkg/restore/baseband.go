package restore

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"

	"github.com/Trsvsr/idevicererestore/internal/cache"
	"github.com/Trsvsr/idevicererestore/internal/download"
	"github.com/Trsvsr/idevicererestore/pkg/archive"
)

// basebandIdentityIndex maps a device's product type to the baseband
// build identity index in a manifest with build_major >= 14; -1 means
// no known mapping.
func basebandIdentityIndex(product string) int {
	switch product {
	case "iPhone5,2", "iPad3,5":
		return 0
	case "iPhone5,4", "iPad3,6":
		return 2
	case "iPhone5,1", "iPad3,4":
		return 4
	case "iPhone5,3":
		return 6
	default:
		return -1
	}
}

// ReconcileBaseband implements the Baseband Reconciler: it resolves
// the remote manifest for the latest firmware matching the device's
// product type, decides whether the local archive's baseband
// component can be reused, and produces bbfw.tmp either way.
//
// Invoked only when Rerestore is set; callers check that precondition.
func (c *Client) ReconcileBaseband(localFiles []*zip.File) error {
	doc, err := cache.Load(c.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to load version data for baseband reconciliation: %w", err)
	}
	_, _, url, err := doc.LatestVersionFor(c.Device.ProductType)
	if err != nil {
		return fmt.Errorf("failed to resolve latest firmware for baseband reconciliation: %w", err)
	}

	zr, err := download.NewRemoteZipReader(url, &download.RemoteConfig{Proxy: c.Proxy, Insecure: c.Insecure})
	if err != nil {
		return fmt.Errorf("failed to open remote manifest for baseband reconciliation: %w", err)
	}

	remoteData, err := archive.ReadFile(zr.File, "BuildManifest.plist")
	if err != nil {
		return fmt.Errorf("failed to partial-fetch remote BuildManifest.plist: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.CacheDir, "BuildManifest_New.plist"), remoteData, 0o644); err != nil {
		log.WithError(err).Warn("failed to cache BuildManifest_New.plist")
	}

	var remote genericManifest
	if err := plist.NewDecoder(bytes.NewReader(remoteData)).Decode(&remote); err != nil {
		return fmt.Errorf("failed to decode remote BuildManifest.plist: %w", err)
	}

	_, _, remoteBuildMajor := decodeVersionInfo(remote)

	index := basebandIdentityIndex(c.Device.ProductType)
	if c.Flags.Has(FlagUpdate) && index != -1 {
		index++
	}
	if remoteBuildMajor >= 14 && index == -1 {
		return fmt.Errorf("no known baseband identity index for product %s on build_major %d", c.Device.ProductType, remoteBuildMajor)
	}
	if remoteBuildMajor < 14 {
		index = 0
	}

	remoteIdentities, _ := remote["BuildIdentities"].([]any)
	if index < 0 || index >= len(remoteIdentities) {
		return fmt.Errorf("baseband identity index %d out of range (have %d)", index, len(remoteIdentities))
	}
	remoteIdentity, _ := remoteIdentities[index].(map[string]any)

	remoteBasebandAny, ok := dictPath(remoteIdentity, "Manifest", "BasebandFirmware")
	if !ok {
		return fmt.Errorf("remote identity has no Manifest.BasebandFirmware entry")
	}
	remoteBaseband, _ := remoteBasebandAny.(map[string]any)
	remotePath, ok := dictPath(remoteBaseband, "Info", "Path")
	if !ok {
		return fmt.Errorf("remote Manifest.BasebandFirmware has no Info.Path")
	}
	remoteBasebandPath, _ := remotePath.(string)

	dst := filepath.Join(c.CacheDir, "bbfw.tmp")

	if c.Identity == nil {
		return fmt.Errorf("no local identity selected for baseband comparison")
	}

	localRaw, err := archive.ReadFile(localFiles, "BuildManifest.plist")
	if err != nil {
		return fmt.Errorf("failed to re-read local BuildManifest.plist for baseband comparison: %w", err)
	}
	var localManifest genericManifest
	if err := plist.NewDecoder(bytes.NewReader(localRaw)).Decode(&localManifest); err != nil {
		return fmt.Errorf("failed to decode local BuildManifest.plist generically: %w", err)
	}
	localIdentity, ok := findGenericIdentity(localManifest, c.Device.HardwareModel, c.Behavior())
	if !ok {
		return fmt.Errorf("no local identity found for baseband comparison")
	}
	localBaseband, ok := dictPath(localIdentity, "Manifest", "BasebandFirmware")
	if !ok {
		return fmt.Errorf("local identity has no Manifest.BasebandFirmware entry")
	}
	localGeneric, _ := localBaseband.(map[string]any)

	if basebandDictsMatch(localGeneric, remoteBaseband) {
		localPath, err := c.Identity.ComponentPath("BasebandFirmware")
		if err != nil {
			return err
		}
		if _, err := archive.ExtractToFile(localFiles, localPath, dst); err != nil {
			return fmt.Errorf("failed to extract local baseband to %s: %w", dst, err)
		}
		c.BasebandPath = dst
		return nil
	}

	zr2, err := download.NewRemoteZipReader(url, &download.RemoteConfig{Proxy: c.Proxy, Insecure: c.Insecure})
	if err != nil {
		return fmt.Errorf("failed to reopen remote archive for baseband fetch: %w", err)
	}
	if _, err := archive.ExtractToFile(zr2.File, remoteBasebandPath, dst); err != nil {
		return fmt.Errorf("failed to partial-fetch remote baseband to %s: %w", dst, err)
	}
	c.BasebandPath = dst
	return nil
}

type genericManifest = map[string]any

func decodeVersionInfo(m genericManifest) (version, build string, buildMajor int) {
	version, _ = m["ProductVersion"].(string)
	build, _ = m["ProductBuildVersion"].(string)
	i := 0
	for i < len(build) && build[i] >= '0' && build[i] <= '9' {
		i++
	}
	for j := 0; j < i; j++ {
		buildMajor = buildMajor*10 + int(build[j]-'0')
	}
	return
}

// findGenericIdentity performs the same linear scan as
// plist.BuildManifest.IdentityForModelAndBehavior but over a
// generically-decoded manifest, so that fields the typed BuildIdentity
// struct does not capture survive into the comparison.
func findGenericIdentity(m genericManifest, model, behavior string) (map[string]any, bool) {
	identities, _ := m["BuildIdentities"].([]any)
	for _, raw := range identities {
		id, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		info, _ := dictPath(id, "Info")
		infoMap, _ := info.(map[string]any)
		class, _ := infoMap["DeviceClass"].(string)
		if !strings.EqualFold(class, model) {
			continue
		}
		if behavior != "" {
			rb, _ := infoMap["RestoreBehavior"].(string)
			if !strings.EqualFold(rb, behavior) {
				continue
			}
		}
		return id, true
	}
	return nil, false
}

func dictPath(m any, keys ...string) (any, bool) {
	cur := m
	for _, k := range keys {
		d, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := d[k]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// basebandDictsMatch implements C8 step 5's field-by-field comparison:
// size must match, and for every key the node types must match;
// DATA compares bytes, UINT compares value, a DICT at key "Info" is
// skipped, and any other type mismatch forces a download.
func basebandDictsMatch(local, remote map[string]any) bool {
	if len(local) != len(remote) {
		return false
	}
	for k, lv := range local {
		rv, ok := remote[k]
		if !ok {
			return false
		}
		if k == "Info" {
			if _, lok := lv.(map[string]any); lok {
				if _, rok := rv.(map[string]any); rok {
					continue
				}
			}
			return false
		}
		switch lt := lv.(type) {
		case []byte:
			rt, ok := rv.([]byte)
			if !ok || len(lt) != len(rt) || !bytes.Equal(lt, rt) {
				return false
			}
		case uint64:
			rt, ok := rv.(uint64)
			if !ok || lt != rt {
				return false
			}
		case int64:
			rt, ok := rv.(int64)
			if !ok || lt != rt {
				return false
			}
		default:
			return false
		}
	}
	return true
}
