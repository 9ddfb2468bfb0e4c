package plist

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/blacktop/go-plist"
)

// BuildManifest is the BuildManifest.plist document found at the root of
// an IPSW archive.
type BuildManifest struct {
	BuildIdentities       []BuildIdentity `plist:"BuildIdentities,omitempty" json:"build_identities,omitempty"`
	ManifestVersion       int             `plist:"ManifestVersion,omitempty" json:"manifest_version,omitempty"`
	ProductBuildVersion   string          `plist:"ProductBuildVersion,omitempty" json:"product_build_version,omitempty"`
	ProductVersion        string          `plist:"ProductVersion,omitempty" json:"product_version,omitempty"`
	SupportedProductTypes []string        `plist:"SupportedProductTypes,omitempty" json:"supported_product_types,omitempty"`
}

func (b *BuildManifest) String() string {
	var out string
	out += "[BuildManifest]\n"
	out += "===============\n"
	out += fmt.Sprintf("  ManifestVersion:       %d\n", b.ManifestVersion)
	out += fmt.Sprintf("  ProductBuildVersion:   %s\n", b.ProductBuildVersion)
	out += fmt.Sprintf("  ProductVersion:        %s\n", b.ProductVersion)
	out += fmt.Sprintf("  SupportedProductTypes: %v\n", b.SupportedProductTypes)
	out += "  BuildIdentities:\n"
	for _, bID := range b.BuildIdentities {
		out += fmt.Sprintf("   -\n%s", bID.String())
	}
	return out
}

// BuildIdentity is a single (device model, restore behavior) combination
// within a BuildManifest.
type BuildIdentity struct {
	ApBoardID        string                      `plist:"ApBoardID,omitempty" json:"ap_board_id,omitempty"`
	ApChipID         string                      `plist:"ApChipID,omitempty" json:"ap_chip_id,omitempty"`
	ApSecurityDomain string                      `plist:"ApSecurityDomain,omitempty" json:"ap_security_domain,omitempty"`
	BbChipID         string                      `plist:"BbChipID,omitempty" json:"bb_chip_id,omitempty"`
	BbGoldCertId     string                      `plist:"BbGoldCertId,omitempty" json:"bb_gold_cert_id,omitempty"`
	Info             IdentityInfo                `plist:"Info,omitempty" json:"info"`
	Manifest         map[string]IdentityManifest `plist:"Manifest,omitempty" json:"manifest,omitempty"`
	UniqueBuildID    []byte                      `plist:"UniqueBuildID,omitempty" json:"unique_build_id,omitempty"`
}

func (i BuildIdentity) String() string {
	var out string
	out += fmt.Sprintf("    ApBoardID:        %s\n", i.ApBoardID)
	out += fmt.Sprintf("    ApChipID:         %s\n", i.ApChipID)
	out += fmt.Sprintf("    ApSecurityDomain: %s\n", i.ApSecurityDomain)
	out += fmt.Sprintf("    BbChipID:         %s\n", i.BbChipID)
	out += fmt.Sprintf("    Info:\n%s", i.Info.String())
	return out
}

// IdentityInfo is a BuildIdentity's Info dictionary.
type IdentityInfo struct {
	BuildNumber            string            `plist:"BuildNumber,omitempty" json:"build_number,omitempty"`
	DeviceClass            string            `plist:"DeviceClass,omitempty" json:"device_class,omitempty"`
	RestoreBehavior        string            `plist:"RestoreBehavior,omitempty" json:"restore_behavior,omitempty"`
	Variant                string            `plist:"Variant,omitempty" json:"variant,omitempty"`
	VariantContents        map[string]string `plist:"VariantContents,omitempty" json:"variant_contents,omitempty"`
	FDRSupport             bool              `plist:"FDRSupport,omitempty" json:"fdr_support,omitempty"`
	MinimumSystemPartition int               `plist:"MinimumSystemPartition,omitempty" json:"minimum_system_partition,omitempty"`
	MobileDeviceMinVersion string            `plist:"MobileDeviceMinVersion,omitempty" json:"mobile_device_min_version,omitempty"`
	OSVarContentSize       int               `plist:"OSVarContentSize,omitempty" json:"os_var_content_size,omitempty"`
	SystemPartitionPadding map[string]int    `plist:"SystemPartitionPadding,omitempty" json:"system_partition_padding,omitempty"`
}

func (i IdentityInfo) String() string {
	return fmt.Sprintf(
		"      BuildNumber:     %s\n"+
			"      DeviceClass:     %s\n"+
			"      RestoreBehavior: %s\n"+
			"      Variant:         %s\n",
		i.BuildNumber, i.DeviceClass, i.RestoreBehavior, i.Variant,
	)
}

// IdentityManifest is one Manifest.<component> entry. Info is kept as a
// raw dictionary (rather than a typed struct) because component_path
// only ever needs the Path key, and other components carry varying
// per-component fields (Digest, Trusted, EPRO, ...) not needed here.
type IdentityManifest struct {
	Digest []byte         `plist:"Digest,omitempty" json:"digest,omitempty"`
	Info   map[string]any `plist:"Info,omitempty" json:"info,omitempty"`
}

func (m IdentityManifest) String() string {
	if p, ok := m.Info["Path"].(string); ok {
		return p
	}
	return ""
}

// ParseBuildManifest decodes a BuildManifest.plist document. It accepts
// both XML and bplist00 encodings transparently, since go-plist
// auto-detects the format from its leading bytes.
func ParseBuildManifest(data []byte) (*BuildManifest, error) {
	bm := &BuildManifest{}
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(bm); err != nil {
		return nil, fmt.Errorf("failed to decode BuildManifest.plist: %w", err)
	}
	return bm, nil
}

// EnumIdentities returns the number of build identities in the manifest.
func (b *BuildManifest) EnumIdentities() int {
	return len(b.BuildIdentities)
}

// IdentityAt returns the build identity at index i, or false if i is out
// of range.
func (b *BuildManifest) IdentityAt(i int) (*BuildIdentity, bool) {
	if i < 0 || i >= len(b.BuildIdentities) {
		return nil, false
	}
	id := b.BuildIdentities[i]
	return &id, true
}

// IdentityForModelAndBehavior performs a linear scan for the first build
// identity whose Info.DeviceClass matches model case-insensitively; when
// behavior is non-empty it additionally requires Info.RestoreBehavior to
// match case-insensitively. Returns an owned copy and true on success.
func (b *BuildManifest) IdentityForModelAndBehavior(model, behavior string) (*BuildIdentity, bool) {
	for _, bID := range b.BuildIdentities {
		if !strings.EqualFold(bID.Info.DeviceClass, model) {
			continue
		}
		if behavior != "" && !strings.EqualFold(bID.Info.RestoreBehavior, behavior) {
			continue
		}
		id := bID
		return &id, true
	}
	return nil, false
}

// CheckCompatibility returns nil iff product appears in
// SupportedProductTypes. Unlike IdentityForModelAndBehavior's
// DeviceClass/RestoreBehavior matching, this comparison is
// case-sensitive, matching strcmp in the original.
func (b *BuildManifest) CheckCompatibility(product string) error {
	for _, p := range b.SupportedProductTypes {
		if p == product {
			return nil
		}
	}
	return fmt.Errorf("product %q is not in SupportedProductTypes %v", product, b.SupportedProductTypes)
}

// VersionInfo extracts ProductVersion/ProductBuildVersion and the
// decimal-prefix build major of the build number.
func (b *BuildManifest) VersionInfo() (version, build string, buildMajor int) {
	version = b.ProductVersion
	build = b.ProductBuildVersion
	buildMajor = decimalPrefix(build)
	return
}

func decimalPrefix(s string) int {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, _ := strconv.Atoi(s[:i])
	return n
}

// ComponentPath returns the archive-relative path for the named
// component within this identity's Manifest, or an error if any of
// Manifest, Manifest.<name>, Manifest.<name>.Info, or
// Manifest.<name>.Info.Path is missing or of the wrong type.
func (i *BuildIdentity) ComponentPath(name string) (string, error) {
	if i.Manifest == nil {
		return "", fmt.Errorf("build identity has no Manifest dictionary")
	}
	entry, ok := i.Manifest[name]
	if !ok {
		return "", fmt.Errorf("build identity has no Manifest.%s entry", name)
	}
	if entry.Info == nil {
		return "", fmt.Errorf("Manifest.%s has no Info dictionary", name)
	}
	raw, ok := entry.Info["Path"]
	if !ok {
		return "", fmt.Errorf("Manifest.%s.Info has no Path key", name)
	}
	path, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("Manifest.%s.Info.Path is not a string", name)
	}
	return path, nil
}
