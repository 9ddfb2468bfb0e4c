// Package tss implements the Ticket Service Client: it builds signing
// requests from a build identity and device parameters, posts them to
// Apple's (or, for re-restores, the community mirror's) signing server,
// and decodes the returned ticket.
package tss

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
	"github.com/google/uuid"

	"github.com/Trsvsr/idevicererestore/internal/download"
	bm "github.com/Trsvsr/idevicererestore/pkg/plist"
	"github.com/Trsvsr/idevicererestore/pkg/shsh"
	"github.com/Trsvsr/idevicererestore/pkg/ticket"
)

// NOTES:
// - https://github.com/tihmstar/tsschecker
// - https://www.theiphonewiki.com/wiki/SHSH_Protocol

const (
	officialActionURL = "http://gs.apple.com/TSS/controller?action=2"
	cydiaActionURL    = "http://cydia.saurik.com/TSS/controller?action=2"
	tssClientVersion  = "libauthinstall-850.0.1.0.1"
)

// ErrNotSigned is returned when the signing server rejects the request.
var ErrNotSigned = fmt.Errorf("not signed")

// Response is the raw form=urlencoded response from the signing server.
type Response struct {
	Status  int
	Message string
	Plist   string
}

// BasebandPreflight carries the values the Device Query component reads
// from a Normal-mode device before a baseband-bearing request.
type BasebandPreflight struct {
	Nonce        string
	ChipID       string
	CertID       string
	ChipSerialNo string
}

// Config is the set of parameters needed to build and send a TSS
// request for a single build identity.
type Config struct {
	Identity        *bm.BuildIdentity
	ECID            uint64
	ApNonce         []byte
	SepNonce        []byte
	Image4Supported bool
	Baseband        *BasebandPreflight

	Product string
	Version string
	Build   string

	Rerestore bool
	CacheDir  string

	Proxy    string
	Insecure bool
}

// Client tracks the signing-server endpoint across a restore session:
// re-restores try the community mirror first, then rotate to the
// official endpoint once one fetch has succeeded.
type Client struct {
	url string
}

// NewClient returns a client pointed at the official signing endpoint.
func NewClient() *Client {
	return &Client{url: officialActionURL}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomECID produces a random 64-bit ECID, used when probing without a
// real device attached.
func RandomECID() (uint64, error) {
	b, err := randomBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// applyRestoreRequestRules mutates entry's EPRO/ESEC flags according to
// the component's RestoreRequestRules, evaluated against parameters.
func applyRestoreRequestRules(entry map[string]any, parameters map[string]any, rules any) {
	rulesList, ok := rules.([]any)
	if !ok {
		return
	}

	for _, rule := range rulesList {
		ruleMap, ok := rule.(map[string]any)
		if !ok {
			continue
		}

		conditions, hasConditions := ruleMap["Conditions"].(map[string]any)
		conditionsFulfilled := true

		if hasConditions {
		conditionLoop:
			for condKey, condValue := range conditions {
				var paramValue any
				switch condKey {
				case "ApRawProductionMode", "ApCurrentProductionMode":
					paramValue = parameters["ApProductionMode"]
				case "ApRawSecurityMode":
					paramValue = parameters["ApSecurityMode"]
				case "ApRequiresImage4":
					paramValue = parameters["ApSupportsImg4"]
				case "ApDemotionPolicyOverride":
					paramValue = parameters["DemotionPolicy"]
				case "ApInRomDFU":
					paramValue = parameters["ApInRomDFU"]
				default:
					conditionsFulfilled = false
					break conditionLoop
				}
				if paramValue != condValue {
					conditionsFulfilled = false
					break
				}
			}
		}

		if conditionsFulfilled {
			if actions, hasActions := ruleMap["Actions"].(map[string]any); hasActions {
				for actionKey, actionValue := range actions {
					if boolValue, isBool := actionValue.(bool); isBool {
						entry[actionKey] = boolValue
					}
				}
			}
		}
	}
}

func postTSS(url string, payload []byte, proxy string, insecure bool) (ticket.Ticket, error) {
	req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-type", "text/xml; charset=\"utf-8\"")
	req.Header.Add("User-Agent", "InetURL/1.0")

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           download.GetProxy(proxy),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("failed to connect to %s: got status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	var tr Response
	for field := range strings.SplitSeq(string(body), "&") {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			log.Error("failed to parse TSS response field")
			continue
		}
		switch key {
		case "STATUS":
			sInt, err := strconv.Atoi(value)
			if err != nil {
				return nil, err
			}
			tr.Status = sInt
		case "MESSAGE":
			tr.Message = value
		case "REQUEST_STRING":
			tr.Plist = value
		}
	}

	log.WithFields(log.Fields{
		"status":  tr.Status,
		"message": tr.Message,
	}).Debug("tss response")

	if tr.Status != 0 || tr.Message != "SUCCESS" {
		return nil, fmt.Errorf("status: %d, message: %s: %w", tr.Status, tr.Message, ErrNotSigned)
	}

	return ticket.Unmarshal([]byte(tr.Plist))
}

func buildRequest(conf *Config) ([]byte, error) {
	identity := conf.Identity

	chipID, err := strconv.ParseUint(strings.TrimPrefix(identity.ApChipID, "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ApChipID: %v", err)
	}
	boardID, err := strconv.ParseUint(strings.TrimPrefix(identity.ApBoardID, "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ApBoardID: %v", err)
	}
	if conf.ECID == 0 {
		return nil, fmt.Errorf("ECID must be provided to build a TSS request")
	}

	tssReq := make(map[string]any)
	tssReq["@HostPlatformInfo"] = "mac"
	tssReq["@VersionInfo"] = tssClientVersion
	tssReq["@UUID"] = strings.ToUpper(uuid.New().String())
	tssReq["ApECID"] = conf.ECID
	tssReq["UniqueBuildID"] = identity.UniqueBuildID
	tssReq["ApChipID"] = chipID
	tssReq["ApBoardID"] = boardID
	tssReq["ApSecurityDomain"] = uint64(1)
	tssReq["ApNonce"] = conf.ApNonce
	tssReq["ApProductionMode"] = true
	tssReq["UID_MODE"] = false

	if conf.Image4Supported {
		tssReq["@ApImg4Ticket"] = true
		tssReq["ApSecurityMode"] = true
		tssReq["ApSupportsImg4"] = true
		tssReq["SepNonce"] = conf.SepNonce
	} else {
		tssReq["@APTicket"] = true
	}

	if conf.Baseband != nil {
		tssReq["@BBTicket"] = true
		tssReq["BbNonce"] = conf.Baseband.Nonce
		tssReq["BbChipID"] = conf.Baseband.ChipID
		tssReq["BbGoldCertId"] = conf.Baseband.CertID
		tssReq["BbSNUM"] = conf.Baseband.ChipSerialNo
	}

	parameters := map[string]any{
		"ApProductionMode": true,
		"ApSecurityMode":   conf.Image4Supported,
		"ApSupportsImg4":   conf.Image4Supported,
	}

	for name, comp := range identity.Manifest {
		entry := map[string]any{"Digest": comp.Digest}
		if rules, ok := comp.Info["RestoreRequestRules"]; ok {
			applyRestoreRequestRules(entry, parameters, rules)
		}
		tssReq[name] = entry
	}

	return plist.MarshalIndent(tssReq, plist.XMLFormat, "  ")
}

// FetchTicket implements fetch_ticket(identity): try the local SHSH
// cache on a re-restore, otherwise build and POST a signing request,
// rotating the endpoint per the community-mirror-then-official scheme.
func (c *Client) FetchTicket(conf *Config) (ticket.Ticket, error) {
	if conf.Rerestore && conf.Version != "" && conf.CacheDir != "" {
		if t, err := shsh.Load(conf.CacheDir, conf.ECID, conf.Product, conf.Version, conf.Build); err == nil {
			log.Debug("using cached ticket")
			return t, nil
		}
	}

	url := c.url
	if conf.Rerestore {
		url = cydiaActionURL
	}

	req, err := buildRequest(conf)
	if err != nil {
		return nil, err
	}

	t, err := postTSS(url, req, conf.Proxy, conf.Insecure)
	if err != nil {
		return nil, err
	}

	if conf.Rerestore {
		c.url = officialActionURL
	}

	return t, nil
}
