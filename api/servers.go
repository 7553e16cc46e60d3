// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
)

// defaultServerOS is the OS definition requested for new server objects.
// Red Hat Linux 6.x supports multipath and attaches luns to paths as they
// are found, which works best for both Red Hat and Ubuntu hosts.
const defaultServerOS = "Red Hat Linux 6.x"

// FindServer hunts for a server object by the initiator name of one of its
// HBAs (an iSCSI IQN or FC WWN). HBAs outlive servers on the array, so a
// matching HBA only counts when it is still attached to a server. Returns
// nil without error when no attached server exists.
func (c *Client) FindServer(wwnOrIscsiName string) (*ScServer, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method":    "FindServer",
			"Type":      "Client",
			"initiator": wwnOrIscsiName,
		}
		log.WithFields(fields).Debug(">>>> FindServer")
		defer log.WithFields(fields).Debug("<<<< FindServer")
	}

	hba, err := c.findServerHba(wwnOrIscsiName)
	if err != nil {
		return nil, err
	}
	if hba == nil || hba.Server == nil || hba.Server.InstanceID == "" {
		log.WithField("initiator", wwnOrIscsiName).Debug("Server not found.")
		return nil, nil
	}

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)
	pf.Append("instanceId", hba.Server.InstanceID)

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScServer/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScServer GetList"); err != nil {
		return nil, err
	}

	server := &ScServer{}
	if err := unmarshalFirst(responseBody, server); err != nil {
		return nil, err
	}
	if server.InstanceID == "" {
		return nil, nil
	}
	return server, nil
}

// findServerHba looks up an HBA record by instance name (the IQN or WWN).
func (c *Client) findServerHba(instanceName string) (*ScServerHba, error) {

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)
	pf.Append("instanceName", instanceName)

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScServerHba/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScServerHba GetList"); err != nil {
		return nil, err
	}

	hba := &ScServerHba{}
	if err := unmarshalFirst(responseBody, hba); err != nil {
		return nil, err
	}
	if hba.InstanceID == "" {
		return nil, nil
	}
	return hba, nil
}

// findServerOS returns the instance ID of the named OS definition, or empty
// when the array does not know it. A server can still be created without
// one.
func (c *Client) findServerOS(osName string) (string, error) {

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return "", err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScServerOperatingSystem/GetList")
	if err != nil {
		return "", err
	}
	if err := c.checkResult(response, responseBody, "ScServerOperatingSystem GetList"); err != nil {
		return "", err
	}

	osList := make([]ScServerOperatingSystem, 0)
	if err := unmarshalList(responseBody, &osList); err != nil {
		return "", err
	}
	for i := range osList {
		if strings.EqualFold(osList[i].Name, osName) {
			return osList[i].InstanceID, nil
		}
	}

	log.WithField("os", osName).Warn("Server operating system definition not found.")
	return "", nil
}

// addHba binds an initiator to the server object. AllowManual lets the
// array accept an HBA it has not itself seen log in yet.
func (c *Client) addHba(server *ScServer, wwnOrIscsiName string, isFC bool) error {

	request := AddHbaRequest{
		HbaPortType:    "Iscsi",
		WwnOrIscsiName: wwnOrIscsiName,
		AllowManual:    true,
	}
	if isFC {
		request.HbaPortType = "FibreChannel"
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST",
		"StorageCenter/ScPhysicalServer/"+server.InstanceID+"/AddHba")
	if err != nil {
		return err
	}
	if err := c.checkResult(response, responseBody, "AddHba"); err != nil {
		log.WithFields(log.Fields{
			"initiator": wwnOrIscsiName,
			"server":    server.Name,
			"error":     err,
		}).Error("AddHba failed.")
		return err
	}
	return nil
}

// CreateServer creates a server object with the given initiator as its
// first HBA. The server is placed in the configured server folder when
// possible and in the array root otherwise. A server without an HBA is
// useless, so if the HBA cannot be added the server is rolled back and no
// server is returned.
func (c *Client) CreateServer(name, wwnOrIscsiName string, isFC bool) (*ScServer, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method":    "CreateServer",
			"Type":      "Client",
			"name":      name,
			"initiator": wwnOrIscsiName,
			"isFC":      isFC,
		}
		log.WithFields(fields).Debug(">>>> CreateServer")
		defer log.WithFields(fields).Debug("<<<< CreateServer")
	}

	request := CreateServerRequest{
		Name:          name,
		Notes:         notes,
		StorageCenter: c.config.SSN,
	}
	if request.Name == "" {
		request.Name = "Server_" + wwnOrIscsiName
	}

	osID, err := c.findServerOS(defaultServerOS)
	if err != nil {
		return nil, err
	}
	request.OperatingSystem = osID

	// A folder failure is not fatal; the server just lands in the root.
	folder, err := c.FindServerFolder(true)
	if err != nil {
		log.WithField("error", err).Warn("Unable to find or create server folder.")
	}
	if folder != nil {
		request.ServerFolder = folder.InstanceID
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/ScPhysicalServer")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, "ScPhysicalServer create"); err != nil {
		return nil, err
	}

	server := &ScServer{}
	if err := unmarshalFirst(responseBody, server); err != nil {
		return nil, err
	}
	if server.InstanceID == "" {
		return nil, nil
	}

	if err := c.addHba(server, wwnOrIscsiName, isFC); err != nil {
		log.Error("Error adding HBA to server, rolling back server creation.")
		c.deleteServer(server)
		return nil, err
	}

	return server, nil
}

// CreateServerMultipleHbas creates a server with several initiators bound
// to it. The first initiator creates the server, the rest are added as
// HBAs.
func (c *Client) CreateServerMultipleHbas(name string, wwns []string) (*ScServer, error) {

	var server *ScServer
	var err error
	for _, wwn := range wwns {
		if server == nil {
			server, err = c.CreateServer(name, wwn, true)
			if err != nil {
				return nil, err
			}
		} else if err = c.addHba(server, wwn, true); err != nil {
			return server, err
		}
	}
	return server, nil
}

// deleteServer removes a server object, used only to roll back a partial
// create. The array refuses to delete servers with mappings or ones not
// marked deletable; either way there is nothing useful to do about a
// failure here, so it is logged and swallowed.
func (c *Client) deleteServer(server *ScServer) {

	if !server.DeleteAllowed {
		log.WithField("server", server.InstanceID).Debug("deleteServer: deleteAllowed is false.")
		return
	}

	response, responseBody, err := c.InvokeAPI(nil, "DELETE", "StorageCenter/ScServer/"+server.InstanceID)
	if err != nil {
		log.WithFields(log.Fields{"server": server.InstanceID, "error": err}).Debug("ScServer delete failed.")
		return
	}
	if err := c.checkResult(response, responseBody, "ScServer delete"); err != nil {
		log.WithFields(log.Fields{"server": server.InstanceID, "error": err}).Debug("ScServer delete rejected.")
	}
}
