package lockdown

import (
	"errors"
	"fmt"

	"github.com/blacktop/go-plist"
	"github.com/mitchellh/mapstructure"
)

// DeviceDetail mirrors the subset of lockdownd's root-domain GetValue
// dictionary this project cares about when a device is in Normal mode.
type DeviceDetail struct {
	DeviceName          string `mapstructure:"DeviceName"`
	DeviceClass         string `mapstructure:"DeviceClass"`
	ProductVersion      string `mapstructure:"ProductVersion"`
	ProductType         string `mapstructure:"ProductType"`
	ProductName         string `mapstructure:"ProductName"`
	HardwareModel       string `mapstructure:"HardwareModel"`
	BuildVersion        string `mapstructure:"BuildVersion"`
	UniqueDeviceID      string `mapstructure:"UniqueDeviceID"`
	UniqueChipID        uint64 `mapstructure:"UniqueChipID"`
	BoardId             uint64 `mapstructure:"BoardId"`
	ChipID              uint64 `mapstructure:"ChipID"`
	CPUArchitecture     string `mapstructure:"CPUArchitecture"`
	TelephonyCapability bool   `mapstructure:"TelephonyCapability"`
}

type valueRequest struct {
	basicRequest
	Domain string `plist:"Domain,omitempty"`
	Key    string `plist:"Key,omitempty"`
}

type valueResponse struct {
	basicResponse
	Key   string `plist:"Key"`
	Value any    `plist:"Value"`
}

// GetValue issues a GetValue request. domain/key may be empty to fetch
// the whole root-domain dictionary.
func (ld *Client) GetValue(domain, key string) (*valueResponse, error) {
	data, err := plist.Marshal(valueRequest{
		basicRequest: basicRequest{
			Label:           ld.label,
			ProtocolVersion: protocolVersion,
			Request:         RequestTypeGetValue,
		},
		Domain: domain,
		Key:    key,
	}, plist.XMLFormat)
	if err != nil {
		return nil, err
	}

	if err := ld.SendData(data); err != nil {
		return nil, fmt.Errorf("failed to send lockdown get value request: %v", err)
	}

	resp := &valueResponse{}
	if err := ld.ReadData(resp); err != nil {
		return nil, fmt.Errorf("failed to read lockdown get value response: %v", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp, nil
}

// BasebandPreflightInfo mirrors the BasebandPreflightInfo root-domain
// value queried in Normal mode ahead of a baseband signing request.
type BasebandPreflightInfo struct {
	Nonce        []byte `mapstructure:"Nonce"`
	ChipID       uint64 `mapstructure:"ChipID"`
	CertID       uint64 `mapstructure:"CertID"`
	ChipSerialNo []byte `mapstructure:"ChipSerialNo"`
}

// GetBasebandPreflightInfo fetches and decodes the BasebandPreflightInfo
// root-domain value.
func (ld *Client) GetBasebandPreflightInfo() (*BasebandPreflightInfo, error) {
	v, err := ld.GetValue("", "BasebandPreflightInfo")
	if err != nil {
		return nil, err
	}
	var info BasebandPreflightInfo
	if err := mapstructure.Decode(v.Value, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetDeviceDetail fetches the root-domain dictionary and decodes it.
func (ld *Client) GetDeviceDetail() (*DeviceDetail, error) {
	v, err := ld.GetValue("", "")
	if err != nil {
		return nil, err
	}

	var dd DeviceDetail
	if err := mapstructure.Decode(v.Value, &dd); err != nil {
		return nil, err
	}
	return &dd, nil
}
