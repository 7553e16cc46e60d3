// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
)

// FindVolumeFolder locates the configured volume folder, optionally
// creating the full folder path when it does not exist yet.
func (c *Client) FindVolumeFolder(create bool) (*ScFolder, error) {
	return c.findOrCreateFolder(volumeFolderType, c.config.VolumeFolderName, create)
}

// FindServerFolder locates the configured server folder, optionally
// creating the full folder path when it does not exist yet.
func (c *Client) FindServerFolder(create bool) (*ScFolder, error) {
	return c.findOrCreateFolder(serverFolderType, c.config.ServerFolderName, create)
}

func (c *Client) findOrCreateFolder(folderType, folderName string, create bool) (*ScFolder, error) {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method":     "findOrCreateFolder",
			"Type":       "Client",
			"folderType": folderType,
			"folderName": folderName,
			"create":     create,
		}
		log.WithFields(fields).Debug(">>>> findOrCreateFolder")
		defer log.WithFields(fields).Debug("<<<< findOrCreateFolder")
	}

	folder, err := c.findFolder(folderType, folderName)
	if err != nil {
		return nil, err
	}
	if folder == nil && create {
		log.WithField("folder", folderName).Info("Creating folder path.")
		folder, err = c.createFolderPath(folderType, folderName)
	}
	return folder, err
}

// findFolder searches for a folder by its fully qualified name. Most of the
// time the folder already exists, so the end folder is looked up by name
// and its parent path verified against the rest of the given path.
func (c *Client) findFolder(folderType, folderName string) (*ScFolder, error) {

	trimmed := strings.Trim(folderName, "/")
	basename := trimmed
	parentPath := ""
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		basename = trimmed[idx+1:]
		// SC convention is for folder paths to end with '/'.
		parentPath = trimmed[:idx] + "/"
	}

	pf := c.getPayloadFilter()
	pf.Append("scSerialNumber", c.config.SSN)
	pf.Append("Name", basename)
	if parentPath != "" {
		pf.Append("folderPath", parentPath)
	}

	requestBody, err := json.Marshal(pf)
	if err != nil {
		return nil, err
	}
	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/"+folderType+"/GetList")
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, folderType+" GetList"); err != nil {
		return nil, err
	}

	folders := make([]ScFolder, 0)
	if err := unmarshalList(responseBody, &folders); err != nil {
		return nil, err
	}

	// The name filter can match same-named folders elsewhere in the tree;
	// only a folder whose own parent path matches is the one we want.
	for i := range folders {
		if folders[i].FolderPath == parentPath {
			return &folders[i], nil
		}
	}
	return nil, nil
}

// createFolder creates a single folder one level under parent. An empty
// parent instance ID creates at the array root.
func (c *Client) createFolder(folderType, parent, name string) (*ScFolder, error) {

	request := CreateFolderRequest{
		Name:          name,
		Notes:         notes,
		StorageCenter: c.config.SSN,
		Parent:        parent,
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "StorageCenter/"+folderType)
	if err != nil {
		return nil, err
	}
	if err := c.checkResult(response, responseBody, folderType+" create"); err != nil {
		return nil, err
	}

	folder := &ScFolder{}
	if err := unmarshalFirst(responseBody, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// createFolderPath creates a folder path from a fully qualified name,
// walking from the root. Existing prefix segments are reused; once a
// segment is missing, that segment and everything after it are created,
// each parented on the previous level. A failure at any level aborts the
// walk.
func (c *Client) createFolderPath(folderType, folderName string) (*ScFolder, error) {

	var folder *ScFolder
	folderPath := ""
	instanceID := ""
	found := true

	for _, segment := range pathToArray(folderName) {
		folderPath += segment

		if found {
			existing, err := c.findFolder(folderType, folderPath)
			if err != nil {
				return nil, err
			}
			folder = existing
			if folder == nil {
				found = false
			}
		}

		if !found {
			created, err := c.createFolder(folderType, instanceID, segment)
			if err != nil || created == nil {
				log.WithFields(log.Fields{
					"folderPath": folderPath,
					"error":      err,
				}).Error("Unable to create folder path.")
				return nil, err
			}
			folder = created
		}

		instanceID = folder.InstanceID
		folderPath += "/"
	}

	return folder, nil
}

// pathToArray splits a folder path into its segments, ignoring empty ones.
func pathToArray(path string) []string {
	segments := make([]string, 0)
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}
