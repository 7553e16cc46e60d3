// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/dellstorage/storagecenter-flocker-driver/errors"
)

// FindMappingProfiles returns the volume's mapping profiles, the durable
// volume-to-server relationships. An unmapped volume yields an empty list.
func (c *Client) FindMappingProfiles(volume *ScVolume) ([]ScMappingProfile, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		"StorageCenter/ScVolume/"+volume.InstanceID+"/MappingProfileList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "MappingProfileList"); err != nil {
		return nil, err
	}

	profiles := make([]ScMappingProfile, 0)
	if err := unmarshalList(responseBody, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// findMappings returns the live path mappings of the volume, one per
// controller port in use. Only active volumes have mappings.
func (c *Client) findMappings(volume *ScVolume) ([]ScMapping, error) {

	if !volume.Active {
		log.WithField("volume", volume.Name).Error("findMappings: volume is not active.")
		return []ScMapping{}, nil
	}

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		"StorageCenter/ScVolume/"+volume.InstanceID+"/MappingList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "MappingList"); err != nil {
		return nil, err
	}

	mappings := make([]ScMapping, 0)
	if err := unmarshalList(responseBody, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

// MapVolume maps the volume to the server. If a mapping profile bound to
// this server already exists it is returned as is, making the operation
// safe to repeat. Server object existence is the caller's problem; this
// does not create one.
func (c *Client) MapVolume(volume *ScVolume, server *ScServer) (*ScMappingProfile, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method": "MapVolume",
			"Type":   "Client",
			"volume": volume.Name,
			"server": server.Name,
		}
		log.WithFields(fields).Debug(">>>> MapVolume")
		defer log.WithFields(fields).Debug("<<<< MapVolume")
	}

	profiles, err := c.FindMappingProfiles(volume)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].Server != nil && profiles[i].Server.InstanceID == server.InstanceID {
			return &profiles[i], nil
		}
	}

	request := MapToServerRequest{
		Server: server.InstanceID,
		Advanced: &MapAdvancedOptions{
			MapToDownServerHbas: true,
			// Single pathing for now.
			MaximumPathCount:            1,
			BootVolume:                  false,
			NoPreferredUseNextAvailable: true,
			UseNextAvailable:            true,
		},
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST",
		"StorageCenter/ScVolume/"+volume.InstanceID+"/MapToServer")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "MapToServer"); err != nil {
		log.WithFields(log.Fields{
			"volume": volume.Name,
			"server": server.Name,
		}).Error("Unable to map volume to server.")
		return nil, err
	}

	profile := &ScMappingProfile{}
	if err := unmarshalFirst(responseBody, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UnmapVolume deletes every mapping profile binding the volume to the
// server. A server with no such profiles is already unmapped, so that is
// success. One failed profile deletion fails the whole operation; a
// half-unmapped volume must not be reported as detached.
func (c *Client) UnmapVolume(volume *ScVolume, server *ScServer) error {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method": "UnmapVolume",
			"Type":   "Client",
			"volume": volume.Name,
			"server": server.Name,
		}
		log.WithFields(fields).Debug(">>>> UnmapVolume")
		defer log.WithFields(fields).Debug("<<<< UnmapVolume")
	}

	profiles, err := c.FindMappingProfiles(volume)
	if err != nil {
		return err
	}

	for i := range profiles {
		if profiles[i].Server == nil || profiles[i].Server.InstanceID != server.InstanceID {
			continue
		}
		response, responseBody, err := c.InvokeAPI(nil, "DELETE",
			"StorageCenter/ScMappingProfile/"+profiles[i].InstanceID)
		if err != nil {
			return err
		}
		if err := c.checkResult(response, responseBody, "ScMappingProfile delete"); err != nil {
			log.WithField("volume", volume.InstanceID).Error("Unable to unmap volume.")
			return err
		}
		log.WithFields(log.Fields{
			"volume": volume.InstanceID,
			"server": server.InstanceID,
		}).Debug("Volume unmapped from server.")
	}
	return nil
}

// findFcInitiators returns the FC WWNs bound to the server.
func (c *Client) findFcInitiators(server *ScServer) ([]string, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		"StorageCenter/ScServer/"+server.InstanceID+"/HbaList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "HbaList"); err != nil {
		log.Error("Unable to find FC initiators.")
		return nil, err
	}

	hbas := make([]ScServerHba, 0)
	if err := unmarshalList(responseBody, &hbas); err != nil {
		return nil, err
	}

	initiators := make([]string, 0)
	for i := range hbas {
		if hbas[i].PortType == "FibreChannel" && hbas[i].InstanceName != "" {
			initiators = append(initiators, hbas[i].InstanceName)
		}
	}
	return initiators, nil
}

// FindWwns returns the lun, the target WWNs and the initiator-target map of
// a volume mapped to an FC server. Only mappings through an HBA belonging
// to the given server are considered. All mappings are expected to share a
// lun; the first one wins and disagreements are logged.
func (c *Client) FindWwns(volume *ScVolume, server *ScServer) (int, []string, map[string][]string, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method": "FindWwns",
			"Type":   "Client",
			"volume": volume.Name,
			"server": server.Name,
		}
		log.WithFields(fields).Debug(">>>> FindWwns")
		defer log.WithFields(fields).Debug("<<<< FindWwns")
	}

	lun := -1
	wwns := make([]string, 0)
	itmap := make(map[string][]string)

	initiators, err := c.findFcInitiators(server)
	if err != nil {
		return lun, wwns, itmap, err
	}
	initiatorSet := make(map[string]bool, len(initiators))
	for _, initiator := range initiators {
		initiatorSet[initiator] = true
	}

	mappings, err := c.findMappings(volume)
	if err != nil {
		return lun, wwns, itmap, err
	}

	for i := range mappings {
		mapping := &mappings[i]
		if mapping.ControllerPort == nil || mapping.ServerHba == nil {
			continue
		}
		port, err := c.findControllerPort(mapping.ControllerPort.InstanceID)
		if err != nil || port == nil {
			continue
		}
		wwn := port.WWN()
		if wwn == "" {
			continue
		}
		hbaName := mapping.ServerHba.InstanceName
		if !initiatorSet[hbaName] {
			log.WithField("hba", hbaName).Debug("HBA not found in initiator list.")
			continue
		}

		itmap[hbaName] = append(itmap[hbaName], wwn)
		wwns = append(wwns, wwn)

		if lun == -1 {
			lun = mapping.LUN
		} else if lun != mapping.LUN {
			log.Warning("Inconsistent luns.")
		}
	}

	if lun == -1 {
		return lun, wwns, itmap, errors.NotFoundError("no FC mappings found for volume %s", volume.Name)
	}
	return lun, wwns, itmap, nil
}
