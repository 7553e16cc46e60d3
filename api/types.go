// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import "encoding/json"

// ScRef is the object reference embedded in most Storage Center REST
// responses. Only the instance ID is guaranteed to be populated.
type ScRef struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName,omitempty"`
	ObjectType   string `json:"objectType,omitempty"`
}

// ScVolume is a Storage Center volume.
type ScVolume struct {
	InstanceID     string `json:"instanceId"`
	Name           string `json:"name"`
	ScSerialNumber int64  `json:"scSerialNumber"`
	ConfiguredSize string `json:"configuredSize"`
	DeviceID       string `json:"deviceId"`
	Active         bool   `json:"active"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	VolumeFolder   *ScRef `json:"volumeFolder,omitempty"`
}

// ScFolder is a volume or server folder. The folderPath of a folder named
// "B" under "Flocker/A" is "Flocker/A/" and its own path prefix for
// children is "Flocker/A/B/".
type ScFolder struct {
	InstanceID     string `json:"instanceId"`
	Name           string `json:"name"`
	FolderPath     string `json:"folderPath"`
	ScSerialNumber int64  `json:"scSerialNumber"`
}

// ScServer is a Storage Center server object, the array-side stand-in for a
// host.
type ScServer struct {
	InstanceID     string `json:"instanceId"`
	Name           string `json:"name"`
	InstanceName   string `json:"instanceName,omitempty"`
	Status         string `json:"status"`
	DeleteAllowed  bool   `json:"deleteAllowed"`
	ScSerialNumber int64  `json:"scSerialNumber"`
}

// ScServerHba is an HBA record bound to a server. For iSCSI HBAs the
// instanceName is the initiator IQN.
type ScServerHba struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName"`
	PortType     string `json:"portType"`
	Server       *ScRef `json:"server"`
}

// ScServerOperatingSystem is an OS definition the array knows about.
type ScServerOperatingSystem struct {
	InstanceID string `json:"instanceId"`
	Name       string `json:"name"`
}

// ScStorageProfile describes a tiering/replay profile for volume data.
type ScStorageProfile struct {
	InstanceID string `json:"instanceId"`
	Name       string `json:"name"`
}

// ScMappingProfile is the durable volume-to-server mapping relationship.
type ScMappingProfile struct {
	InstanceID string `json:"instanceId"`
	Server     *ScRef `json:"server"`
	Volume     *ScRef `json:"volume,omitempty"`
}

// ScMapping is a single active path mapping of a volume, one per
// controller port in use.
type ScMapping struct {
	InstanceID     string `json:"instanceId"`
	LUN            int    `json:"lun"`
	ReadOnly       bool   `json:"readOnly"`
	Status         string `json:"status"`
	Controller     *ScRef `json:"controller"`
	ControllerPort *ScRef `json:"controllerPort"`
	ServerHba      *ScRef `json:"serverHba,omitempty"`
	Server         *ScRef `json:"server,omitempty"`
}

// ScControllerPort is a front-end controller port. The WWN key changed case
// across array firmware releases, so both spellings are checked.
type ScControllerPort struct {
	InstanceID    string `json:"instanceId"`
	IscsiName     string `json:"iscsiName"`
	TransportType string `json:"transportType,omitempty"`
	Wwn           string `json:"wwn,omitempty"`
	WwnLegacy     string `json:"WWN,omitempty"`
}

// WWN returns the port world wide name regardless of which key the array
// used.
func (p *ScControllerPort) WWN() string {
	if p.Wwn != "" {
		return p.Wwn
	}
	return p.WwnLegacy
}

// ScFaultDomain is an iSCSI fault domain portal in virtual port mode.
type ScFaultDomain struct {
	InstanceID         string `json:"instanceId,omitempty"`
	Name               string `json:"name,omitempty"`
	TargetIpv4Address  string `json:"targetIpv4Address"`
	WellKnownIPAddress string `json:"wellKnownIpAddress,omitempty"`
	PortNumber         int    `json:"portNumber"`
}

// Address returns the portal address, falling back to the well-known
// address when no target address is present.
func (d *ScFaultDomain) Address() string {
	if d.TargetIpv4Address != "" {
		return d.TargetIpv4Address
	}
	return d.WellKnownIPAddress
}

// ScControllerPortIscsiConfiguration holds the per-port portal settings used
// in legacy (non virtual port) mode.
type ScControllerPortIscsiConfiguration struct {
	InstanceID string `json:"instanceId,omitempty"`
	IPAddress  string `json:"ipAddress"`
	PortNumber int    `json:"portNumber"`
}

// ScConfiguration is the array-wide configuration object.
type ScConfiguration struct {
	InstanceID         string `json:"instanceId,omitempty"`
	IscsiTransportMode string `json:"iscsiTransportMode"`
}

// ScVolumeConfiguration is the live configuration of a volume, including
// the controller it is currently active on.
type ScVolumeConfiguration struct {
	InstanceID     string `json:"instanceId,omitempty"`
	Controller     *ScRef `json:"controller"`
	StorageProfile *ScRef `json:"storageProfile,omitempty"`
}

// ScUserPreferences holds the defaults of the connected user account.
type ScUserPreferences struct {
	AllowStorageProfileSelection bool   `json:"allowStorageProfileSelection"`
	StorageProfile               *ScRef `json:"storageProfile"`
}

// ISCSIProperties is the result of resolving a mapped volume to its iSCSI
// targets. The scalar fields identify the preferred path; the slices hold
// every discovered path in candidate order.
type ISCSIProperties struct {
	TargetIqn     string
	TargetIqns    []string
	TargetPortal  string
	TargetPortals []string
	TargetLun     int
	TargetLuns    []int
	AccessMode    string
}

// ISCSIPortal is one array target portal endpoint.
type ISCSIPortal struct {
	IPAddress  string
	PortNumber int
}

//
// Request bodies. Field names follow the Storage Center REST API, which
// expects PascalCase keys in requests and returns camelCase in responses.
//

// LoginRequest is the body for ApiConnection/Login.
type LoginRequest struct {
	Application        string `json:"Application"`
	ApplicationVersion string `json:"ApplicationVersion"`
}

// LoginResponse carries the API version negotiated by the data collector.
type LoginResponse struct {
	InstanceID string `json:"instanceId,omitempty"`
	APIVersion string `json:"apiVersion"`
}

// CreateVolumeRequest is the body for StorageCenter/ScVolume. Size is a
// quantity string such as "100 GB".
type CreateVolumeRequest struct {
	Name           string `json:"Name"`
	Notes          string `json:"Notes"`
	Size           string `json:"Size"`
	StorageCenter  int64  `json:"StorageCenter"`
	VolumeFolder   string `json:"VolumeFolder,omitempty"`
	StorageProfile string `json:"StorageProfile,omitempty"`
}

// CreateFolderRequest is the body for the ScVolumeFolder and ScServerFolder
// endpoints. Parent is empty for folders created at the array root.
type CreateFolderRequest struct {
	Name          string `json:"Name"`
	Notes         string `json:"Notes"`
	StorageCenter int64  `json:"StorageCenter"`
	Parent        string `json:"Parent,omitempty"`
}

// CreateServerRequest is the body for StorageCenter/ScPhysicalServer.
type CreateServerRequest struct {
	Name            string `json:"Name"`
	Notes           string `json:"Notes"`
	StorageCenter   int64  `json:"StorageCenter"`
	OperatingSystem string `json:"OperatingSystem,omitempty"`
	ServerFolder    string `json:"ServerFolder,omitempty"`
}

// AddHbaRequest is the body for ScPhysicalServer/<id>/AddHba.
type AddHbaRequest struct {
	HbaPortType    string `json:"HbaPortType"`
	WwnOrIscsiName string `json:"WwnOrIscsiName"`
	AllowManual    bool   `json:"AllowManual"`
}

// MapToServerRequest is the body for ScVolume/<id>/MapToServer. The server
// key is lowercase; the API accepts it only in that form.
type MapToServerRequest struct {
	Server   string              `json:"server"`
	Advanced *MapAdvancedOptions `json:"Advanced"`
}

// MapAdvancedOptions pins mapping behavior to a single path picked by the
// array.
type MapAdvancedOptions struct {
	MapToDownServerHbas         bool `json:"MapToDownServerHbas"`
	MaximumPathCount            int  `json:"MaximumPathCount"`
	BootVolume                  bool `json:"BootVolume"`
	NoPreferredUseNextAvailable bool `json:"NoPreferredUseNextAvailable"`
	UseNextAvailable            bool `json:"UseNextAvailable"`
}

// ExpandVolumeRequest is the body for ScVolume/<id>/ExpandToSize. NewSize is
// an absolute quantity string such as "200 GB".
type ExpandVolumeRequest struct {
	NewSize string `json:"NewSize"`
}

// ModifyVolumeConfigurationRequest is the body for
// ScVolumeConfiguration/<id>/Modify.
type ModifyVolumeConfigurationRequest struct {
	StorageProfile string `json:"StorageProfile"`
}

//
// Payload filters. EM 2015 R1 (API 2.2) nests the filter list under a
// "filter" key; earlier releases expect the flat legacy form.
//

type filterItem struct {
	AttributeName  string `json:"attributeName"`
	AttributeValue any    `json:"attributeValue"`
	FilterType     string `json:"filterType"`
}

type filterBody struct {
	FilterType string       `json:"filterType"`
	Filters    []filterItem `json:"filters"`
}

// PayloadFilter builds the GetList search body in whichever shape the
// connected API version requires.
type PayloadFilter struct {
	legacy bool
	body   filterBody
}

// NewPayloadFilter returns an AND filter using the modern nested shape.
func NewPayloadFilter() *PayloadFilter {
	return &PayloadFilter{body: filterBody{FilterType: "AND"}}
}

// NewLegacyPayloadFilter returns an AND filter in the flat pre-2.2 shape.
func NewLegacyPayloadFilter() *PayloadFilter {
	return &PayloadFilter{legacy: true, body: filterBody{FilterType: "AND"}}
}

// Append adds an Equals condition. Nil values are skipped so optional
// conditions can be passed through unconditionally.
func (f *PayloadFilter) Append(name string, value any) *PayloadFilter {
	if value == nil {
		return f
	}
	f.body.Filters = append(f.body.Filters, filterItem{
		AttributeName:  name,
		AttributeValue: value,
		FilterType:     "Equals",
	})
	return f
}

// MarshalJSON emits either {"filter": {...}} or the flat legacy body.
func (f *PayloadFilter) MarshalJSON() ([]byte, error) {
	if f.legacy {
		return json.Marshal(f.body)
	}
	return json.Marshal(struct {
		Filter filterBody `json:"filter"`
	}{f.body})
}
