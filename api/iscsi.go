// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dellstorage/storagecenter-flocker-driver/errors"
)

// findControllerPort fetches the front-end controller port object for the
// given instance ID.
func (c *Client) findControllerPort(cportID string) (*ScControllerPort, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET", "StorageCenter/ScControllerPort/"+cportID)
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScControllerPort"); err != nil {
		log.WithField("port", cportID).Error("Unable to find controller port.")
		return nil, err
	}

	port := &ScControllerPort{}
	if err := unmarshalFirst(responseBody, port); err != nil {
		return nil, err
	}
	return port, nil
}

// findDomains returns the fault domains associated with a controller port.
func (c *Client) findDomains(cportID string) ([]ScFaultDomain, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		"StorageCenter/ScControllerPort/"+cportID+"/FaultDomainList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "FaultDomainList"); err != nil {
		log.Error("Error getting FaultDomainList.")
		return nil, err
	}

	domains := make([]ScFaultDomain, 0)
	if err := unmarshalList(responseBody, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// findControllerPortIscsiConfig returns the iSCSI portal settings of a
// controller port, used in legacy (non virtual port) mode.
func (c *Client) findControllerPortIscsiConfig(cportID string) (*ScControllerPortIscsiConfiguration, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		"StorageCenter/ScControllerPortIscsiConfiguration/"+cportID)
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScControllerPortIscsiConfiguration"); err != nil {
		log.WithField("port", cportID).Error("Unable to find controller port iscsi configuration.")
		return nil, err
	}

	config := &ScControllerPortIscsiConfiguration{}
	if err := unmarshalFirst(responseBody, config); err != nil {
		return nil, err
	}
	return config, nil
}

// findActiveController returns the instance ID of the controller the volume
// is currently active on. A volume can only be active on one controller at
// a time.
func (c *Client) findActiveController(volume *ScVolume) (string, error) {

	config, err := c.GetVolumeConfiguration(volume)
	if err != nil {
		log.WithField("volume", volume.InstanceID).Error("Unable to retrieve VolumeConfiguration.")
		return "", err
	}
	if config.Controller == nil {
		return "", nil
	}
	log.WithField("controller", config.Controller.InstanceID).Debug("Active controller.")
	return config.Controller.InstanceID, nil
}

// IsVirtualPortMode reports whether the array presents its iSCSI targets
// through fault-domain virtual ports rather than per-port addresses.
func (c *Client) IsVirtualPortMode() (bool, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		fmt.Sprintf("StorageCenter/ScConfiguration/%d", c.config.SSN))
	if err != nil {
		return false, err
	}
	if err := c.checkResult(response, responseBody, "ScConfiguration"); err != nil {
		return false, err
	}

	config := &ScConfiguration{}
	if err := unmarshalFirst(responseBody, config); err != nil {
		return false, err
	}
	return config.IscsiTransportMode == "VirtualPort", nil
}

// iscsiPortalData accumulates state while walking mapping portals looking
// for the single best one to return.
type iscsiPortalData struct {
	active     int
	up         int
	accessMode string
	ip         string
	port       int
}

// FindISCSIProperties finds target information for a mapped volume. All
// discovered paths are returned along with the index of the preferred one.
//
// When preferredIP is non-empty (and preferredPort non-zero) only portals on
// that endpoint may become preferred. Among eligible portals, the first one
// on the volume's active controller is held as a candidate and locked in as
// soon as its mapping status reads Up. If no candidate ever reads Up the
// active-controller candidate is used anyway, and failing even that the
// first portal found is returned in the hope the ports come back up before
// the connection is attempted. A mapped volume with zero portals means the
// array disagrees with what we just did, which is fatal.
func (c *Client) FindISCSIProperties(volume *ScVolume, preferredIP string, preferredPort int) (*ISCSIProperties, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method": "FindISCSIProperties",
			"Type":   "Client",
			"volume": volume.Name,
		}
		log.WithFields(fields).Debug(">>>> FindISCSIProperties")
		defer log.WithFields(fields).Debug("<<<< FindISCSIProperties")
	}

	pdata := iscsiPortalData{
		active:     -1,
		up:         -1,
		accessMode: "rw",
		ip:         preferredIP,
		port:       preferredPort,
	}
	portals := make([]string, 0)
	iqns := make([]string, 0)
	luns := make([]int, 0)

	// process records one discovered portal and tracks whether it is the
	// best single portal seen so far.
	process := func(lun int, iqn, address string, port int, readonly bool, status string, active bool) {
		portals = append(portals, fmt.Sprintf("%s:%d", address, port))
		iqns = append(iqns, iqn)
		luns = append(luns, lun)

		if pdata.ip != "" && pdata.ip != address {
			return
		}
		if pdata.port != 0 && pdata.port != port {
			return
		}

		// Active controller and status Up is preferred, but the status does
		// not actually need to be Up at this point.
		if pdata.up == -1 {
			pdata.accessMode = "rw"
			if readonly {
				pdata.accessMode = "ro"
			}
			if active {
				pdata.active = len(iqns) - 1
				if status == "Up" {
					pdata.up = pdata.active
				}
			}
		}
	}

	mappings, err := c.findMappings(volume)
	if err != nil {
		return nil, err
	}

	if len(mappings) > 0 {
		activeController, err := c.findActiveController(volume)
		if err != nil {
			return nil, err
		}
		virtualPortMode, err := c.IsVirtualPortMode()
		if err != nil {
			return nil, err
		}

		for i := range mappings {
			mapping := &mappings[i]
			if mapping.ControllerPort == nil {
				continue
			}

			port, err := c.findControllerPort(mapping.ControllerPort.InstanceID)
			if err != nil || port == nil || port.IscsiName == "" {
				continue
			}
			iqn := port.IscsiName
			isActive := mapping.Controller != nil && mapping.Controller.InstanceID == activeController

			if virtualPortMode {
				// Use the port's fault domain addresses.
				domains, err := c.findDomains(mapping.ControllerPort.InstanceID)
				if err != nil {
					continue
				}
				for j := range domains {
					process(mapping.LUN, iqn, domains[j].Address(), domains[j].PortNumber,
						mapping.ReadOnly, mapping.Status, isActive)
				}
			} else {
				// Legacy mode addresses live in the iSCSI configuration
				// object. This should really never fail, but if it does just
				// keep moving and return what we can.
				config, err := c.findControllerPortIscsiConfig(mapping.ControllerPort.InstanceID)
				if err != nil || config == nil {
					continue
				}
				process(mapping.LUN, iqn, config.IPAddress, config.PortNumber,
					mapping.ReadOnly, mapping.Status, isActive)
			}
		}
	}

	if len(luns) == 0 {
		// We just mapped this volume; if the mapping cannot be found the
		// world is wrong.
		return nil, errors.NotFoundError("unable to find iSCSI mappings for volume %s", volume.Name)
	}

	best := pdata.active
	if pdata.up != -1 {
		// Found a connection that is already up. Use that.
		best = pdata.up
	} else if best == -1 {
		// A controller may have gone down in the middle of this. Return the
		// first portal and hope the ports are up by the time the connection
		// is attempted.
		log.Debug("Volume is not yet active on any controller.")
		best = 0
	}

	properties := &ISCSIProperties{
		TargetIqn:     iqns[best],
		TargetIqns:    iqns,
		TargetPortal:  portals[best],
		TargetPortals: portals,
		TargetLun:     luns[best],
		TargetLuns:    luns,
		AccessMode:    pdata.accessMode,
	}

	log.WithFields(log.Fields{
		"targetIqn":    properties.TargetIqn,
		"targetPortal": properties.TargetPortal,
		"targetLun":    properties.TargetLun,
		"accessMode":   properties.AccessMode,
	}).Debug("Resolved iSCSI properties.")

	return properties, nil
}

// GetISCSIPorts returns the array's iSCSI target portals: the fault domain
// ports in virtual port mode, or the front-end primary ports in legacy
// mode. Fault domains without a real target address are placeholders and
// are skipped.
func (c *Client) GetISCSIPorts() ([]ISCSIPortal, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{"Method": "GetISCSIPorts", "Type": "Client"}
		log.WithFields(fields).Debug(">>>> GetISCSIPorts")
		defer log.WithFields(fields).Debug("<<<< GetISCSIPorts")
	}

	result := make([]ISCSIPortal, 0)

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)
	pf.Append("TransportType", "Iscsi")

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScFaultDomain/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScFaultDomain GetList"); err == nil {
		domains := make([]ScFaultDomain, 0)
		if err := unmarshalList(responseBody, &domains); err != nil {
			return nil, err
		}
		for i := range domains {
			if domains[i].TargetIpv4Address != "0.0.0.0" {
				result = append(result, ISCSIPortal{
					IPAddress:  domains[i].TargetIpv4Address,
					PortNumber: domains[i].PortNumber,
				})
			}
		}
	}

	if len(result) == 0 {
		// Must be running legacy mode; look for all front end primary ports.
		pf := c.getPayloadFilter()
		pf.Append("scSerialNumber", c.config.SSN)

		requestBody, err := json.Marshal(pf)
		if err != nil {
			return nil, err
		}
		response, responseBody, err := c.InvokeAPI(requestBody, "POST",
			"StorageCenter/ScControllerPortIscsiConfiguration/GetList")
		if err != nil {
			return nil, err
		}
		if err := c.checkResult(response, responseBody, "ScControllerPortIscsiConfiguration GetList"); err == nil {
			configs := make([]ScControllerPortIscsiConfiguration, 0)
			if err := unmarshalList(responseBody, &configs); err != nil {
				return nil, err
			}
			for i := range configs {
				result = append(result, ISCSIPortal{
					IPAddress:  configs[i].IPAddress,
					PortNumber: configs[i].PortNumber,
				})
			}
		}
	}

	return result, nil
}
