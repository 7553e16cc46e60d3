// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import (
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dellstorage/storagecenter-flocker-driver/errors"
)

// CreateVolume creates a new volume of the given size in the configured
// volume folder, creating the folder path if needed. A folder failure is
// not fatal; the volume then lands in the array root. A storage profile
// name that cannot be resolved is fatal, since silently falling back to the
// default profile would violate the caller's tiering intent.
func (c *Client) CreateVolume(name string, sizeGB int64, storageProfile string) (*ScVolume, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method":         "CreateVolume",
			"Type":           "Client",
			"name":           name,
			"sizeGB":         sizeGB,
			"storageProfile": storageProfile,
		}
		log.WithFields(fields).Debug(">>>> CreateVolume")
		defer log.WithFields(fields).Debug("<<<< CreateVolume")
	}

	folder, err := c.FindVolumeFolder(true)
	if err != nil || folder == nil {
		log.WithFields(log.Fields{
			"folder": c.config.VolumeFolderName,
			"error":  err,
		}).Warn("Unable to find or create volume folder, volume will be created in the root.")
		folder = nil
	}

	profile, err := c.FindStorageProfile(storageProfile)
	if err != nil {
		return nil, err
	}
	if storageProfile != "" && profile == nil {
		return nil, errors.NotFoundError("storage profile %s not found", storageProfile)
	}

	request := CreateVolumeRequest{
		Name:          name,
		Notes:         notes,
		Size:          fmt.Sprintf("%d GB", sizeGB),
		StorageCenter: c.config.SSN,
	}
	if folder != nil {
		request.VolumeFolder = folder.InstanceID
	}
	if profile != nil {
		request.StorageProfile = profile.InstanceID
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScVolume")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScVolume create"); err != nil {
		return nil, err
	}

	volume := &ScVolume{}
	if err := unmarshalFirst(responseBody, volume); err != nil {
		return nil, err
	}
	if volume.InstanceID == "" {
		// Some releases return success with an empty payload. The volume
		// should exist, so make one last attempt to locate it.
		log.Error("ScVolume create returned success with empty payload, attempting to locate volume.")
		return c.FindVolume(name)
	}

	log.WithFields(log.Fields{
		"instanceId": volume.InstanceID,
		"name":       volume.Name,
	}).Info("Created volume.")

	return volume, nil
}

// getVolumeList returns volumes matching the given name, optionally scoped
// to the configured volume folder.
func (c *Client) getVolumeList(name string, filterByFolder bool) ([]ScVolume, error) {

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)
	pf.Append("Name", name)
	if filterByFolder {
		pf.Append("volumeFolderPath", c.volumeFolderPath())
	}

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScVolume/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScVolume GetList"); err != nil {
		return nil, err
	}

	volumes := make([]ScVolume, 0)
	if err := unmarshalList(responseBody, &volumes); err != nil {
		return nil, err
	}
	return volumes, nil
}

// FindVolume searches the array for a volume by name. The configured volume
// folder is searched first; if nothing is found there (volumes may have
// been moved, or the folder renamed) the whole array is searched. Returns
// nil without error when the volume does not exist. More than one match is
// fatal.
func (c *Client) FindVolume(name string) (*ScVolume, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{"Method": "FindVolume", "Type": "Client", "name": name}
		log.WithFields(fields).Debug(">>>> FindVolume")
		defer log.WithFields(fields).Debug("<<<< FindVolume")
	}

	if name == "" {
		return nil, nil
	}

	volumes, err := c.getVolumeList(name, true)
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		log.WithFields(log.Fields{
			"name":   name,
			"folder": c.config.VolumeFolderName,
		}).Debug("Volume not found in folder, searching the whole array.")
		volumes, err = c.getVolumeList(name, false)
		if err != nil {
			return nil, err
		}
	}

	if len(volumes) > 1 {
		return nil, errors.AmbiguousError("multiple copies of volume %s found", name)
	}
	if len(volumes) == 0 {
		return nil, nil
	}
	return &volumes[0], nil
}

// DeleteVolume deletes the named volume. A volume that cannot be found is
// effectively gone, so that counts as success.
func (c *Client) DeleteVolume(name string) error {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{"Method": "DeleteVolume", "Type": "Client", "name": name}
		log.WithFields(fields).Debug(">>>> DeleteVolume")
		defer log.WithFields(fields).Debug("<<<< DeleteVolume")
	}

	volume, err := c.FindVolume(name)
	if err != nil {
		return err
	}
	if volume == nil {
		log.WithField("name", name).Warn("DeleteVolume: unable to find volume.")
		return nil
	}

	response, responseBody, err := c.InvokeAPI(nil, "DELETE", "StorageCenter/ScVolume/"+volume.InstanceID)
	if err != nil {
		return err
	}
	if err := c.checkResult(response, responseBody, "ScVolume delete"); err != nil {
		return fmt.Errorf("error deleting volume %d: %s: %v", c.config.SSN, name, err)
	}
	return nil
}

// ExpandVolume grows the volume to newSizeGB. NewSize is absolute, not a
// delta.
func (c *Client) ExpandVolume(volume *ScVolume, newSizeGB int64) (*ScVolume, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method":    "ExpandVolume",
			"Type":      "Client",
			"name":      volume.Name,
			"newSizeGB": newSizeGB,
		}
		log.WithFields(fields).Debug(">>>> ExpandVolume")
		defer log.WithFields(fields).Debug("<<<< ExpandVolume")
	}

	requestBody, err := json.Marshal(ExpandVolumeRequest{NewSize: fmt.Sprintf("%d GB", newSizeGB)})
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST",
		"StorageCenter/ScVolume/"+volume.InstanceID+"/ExpandToSize")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScVolume ExpandToSize"); err != nil {
		return nil, err
	}

	expanded := &ScVolume{}
	if err := unmarshalFirst(responseBody, expanded); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"name": expanded.Name,
		"size": expanded.ConfiguredSize,
	}).Debug("Volume expanded.")

	return expanded, nil
}

// ListVolumes returns all volumes in the configured volume folder, creating
// the folder if it is missing. A folder failure yields an empty list.
func (c *Client) ListVolumes() ([]ScVolume, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{"Method": "ListVolumes", "Type": "Client"}
		log.WithFields(fields).Debug(">>>> ListVolumes")
		defer log.WithFields(fields).Debug("<<<< ListVolumes")
	}

	folder, err := c.FindVolumeFolder(true)
	if err != nil || folder == nil {
		log.WithField("error", err).Error("Error getting configured volume folder.")
		return []ScVolume{}, nil
	}

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)
	pf.Append("volumeFolderPath", c.volumeFolderPath())

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScVolume/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScVolume GetList"); err != nil {
		return nil, err
	}

	volumes := make([]ScVolume, 0)
	if err := unmarshalList(responseBody, &volumes); err != nil {
		return nil, err
	}
	return volumes, nil
}

func (c *Client) volumeFolderPath() string {
	if strings.HasSuffix(c.config.VolumeFolderName, "/") {
		return c.config.VolumeFolderName
	}
	return c.config.VolumeFolderName + "/"
}

// FindStorageProfile looks for a storage profile by name. Storage profiles
// determine tiering settings; a volume created without one uses the account
// default. Name matching is case-insensitive with spaces stripped, which
// rules out a server-side name filter; the full profile list is fetched
// instead (there are never many).
func (c *Client) FindStorageProfile(name string) (*ScStorageProfile, error) {

	if name == "" {
		return nil, nil
	}

	wanted := strings.ToLower(strings.ReplaceAll(name, " ", ""))

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScStorageProfile/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScStorageProfile GetList"); err != nil {
		return nil, err
	}

	profiles := make([]ScStorageProfile, 0)
	if err := unmarshalList(responseBody, &profiles); err != nil {
		return nil, err
	}
	for i := range profiles {
		if strings.ToLower(strings.ReplaceAll(profiles[i].Name, " ", "")) == wanted {
			return &profiles[i], nil
		}
	}
	return nil, nil
}

// UpdateStorageProfile changes the volume to a different storage profile.
// An empty name resets to the default profile of the connected account.
// The account must be allowed to select storage profiles.
func (c *Client) UpdateStorageProfile(volume *ScVolume, name string) error {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method":  "UpdateStorageProfile",
			"Type":    "Client",
			"name":    volume.Name,
			"profile": name,
		}
		log.WithFields(fields).Debug(">>>> UpdateStorageProfile")
		defer log.WithFields(fields).Debug("<<<< UpdateStorageProfile")
	}

	prefs, err := c.getUserPreferences()
	if err != nil {
		return err
	}
	if !prefs.AllowStorageProfileSelection {
		return errors.New("user does not have permission to change storage profile selection")
	}

	var profileID, profileName string
	if name != "" {
		profile, err := c.FindStorageProfile(name)
		if err != nil {
			return err
		}
		if profile == nil {
			return errors.NotFoundError("storage profile %s was not found", name)
		}
		profileID, profileName = profile.InstanceID, profile.Name
	} else {
		// Going from a specific profile back to the account default.
		if prefs.StorageProfile == nil || prefs.StorageProfile.InstanceID == "" {
			return errors.NotFoundError("default storage profile was not found")
		}
		profileID, profileName = prefs.StorageProfile.InstanceID, prefs.StorageProfile.InstanceName
	}

	log.WithFields(log.Fields{
		"volume":  volume.Name,
		"profile": profileName,
	}).Info("Switching volume storage profile.")

	requestBody, err := json.Marshal(ModifyVolumeConfigurationRequest{StorageProfile: profileID})
	if err != nil {
		return err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST",
		"StorageCenter/ScVolumeConfiguration/"+volume.InstanceID+"/Modify")
	if err != nil {
		return err
	}
	return c.checkResult(response, responseBody, "ScVolumeConfiguration Modify")
}

// getUserPreferences retrieves the settings and defaults of the connected
// account.
func (c *Client) getUserPreferences() (*ScUserPreferences, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		fmt.Sprintf("StorageCenter/StorageCenter/%d/UserPreferences", c.config.SSN))
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "UserPreferences"); err != nil {
		return nil, err
	}

	prefs := &ScUserPreferences{}
	if err := unmarshalFirst(responseBody, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// GetVolumeConfiguration returns the live configuration of a volume,
// including its active controller and current storage profile.
func (c *Client) GetVolumeConfiguration(volume *ScVolume) (*ScVolumeConfiguration, error) {

	response, responseBody, err := c.InvokeAPI(nil, "GET",
		"StorageCenter/ScVolume/"+volume.InstanceID+"/VolumeConfiguration")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "VolumeConfiguration"); err != nil {
		return nil, err
	}

	config := &ScVolumeConfiguration{}
	if err := unmarshalFirst(responseBody, config); err != nil {
		return nil, err
	}
	return config, nil
}

// InitVolume maps the volume to any available server and immediately unmaps
// it, forcing the array to instantiate the volume so it can be snapshotted
// while still empty. Failures are logged, never returned; nothing the
// caller does depends on this having worked.
func (c *Client) InitVolume(volume *ScVolume) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{"Method": "InitVolume", "Type": "Client", "name": volume.Name}
		log.WithFields(fields).Debug(">>>> InitVolume")
		defer log.WithFields(fields).Debug("<<<< InitVolume")
	}

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", volume.ScSerialNumber)

	requestBody, err := json.Marshal(pf)
	if err != nil {
		log.WithField("error", err).Warn("Volume initialization failure.")
		return
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScServer/GetList")
	if err != nil || c.checkResult(response, responseBody, "ScServer GetList") != nil {
		log.WithField("volume", volume.InstanceID).Warn("Volume initialization failure.")
		return
	}

	servers := make([]ScServer, 0)
	if err := unmarshalList(responseBody, &servers); err != nil {
		log.WithField("error", err).Warn("Volume initialization failure.")
		return
	}

	// Sort through the servers looking for one with connectivity.
	for i := range servers {
		server := &servers[i]
		if strings.ToLower(server.Status) == "down" {
			continue
		}
		if _, err := c.MapVolume(volume, server); err != nil {
			continue
		}
		// Mapping changed the volume, grab a fresh copy before unmapping.
		if refreshed, err := c.FindVolume(volume.Name); err == nil && refreshed != nil {
			volume = refreshed
		}
		if err := c.UnmapVolume(volume, server); err != nil {
			log.WithField("error", err).Warn("Volume initialization unmap failed.")
		}
		return
	}

	log.WithField("volume", volume.InstanceID).Warn("Volume initialization failure.")
}
