// Copyright 2026 Dell Inc. All Rights Reserved.

// Package api provides a high-level interface to the Dell Storage Center
// REST API as exposed by an Enterprise Manager data collector.
package api

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	// apiVersion is the client version reported to the data collector on
	// login.
	apiVersion = "2.3.1"

	// applicationName identifies this client in the array's session list.
	applicationName = "Flocker REST Driver"

	// notes is stamped on every object this client creates so operators can
	// tell driver-managed objects from hand-built ones.
	notes = "Created by Dell Flocker Driver"

	// DefaultPort is the data collector's default REST listening port.
	DefaultPort = 3033

	// DefaultFolderName is used for both the volume folder and the server
	// folder when the caller does not configure one.
	DefaultFolderName = "Flocker"

	volumeFolderType = "ScVolumeFolder"
	serverFolderType = "ScServerFolder"
)

// ClientConfig holds configuration data for the API client object.
type ClientConfig struct {
	// Data Collector Info
	Hostname  string
	Port      int
	Username  string
	Password  string
	VerifyTLS bool

	// Array Info
	SSN int64 // Storage Center serial number

	// Options
	VolumeFolderName string
	ServerFolderName string
	DebugTraceFlags  map[string]bool
}

// Client is the object to use for interacting with the Storage Center API.
// A Client holds a single authenticated session; Connect must be called
// before any other method and CloseConnection when done.
type Client struct {
	config *ClientConfig

	// Negotiated on login. Releases before API 2.2 use the flat legacy
	// payload filter shape.
	apiVersion           string
	legacyPayloadFilters bool
}

// NewAPIClient is a factory method for creating a new instance.
func NewAPIClient(config ClientConfig) *Client {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.VolumeFolderName == "" {
		config.VolumeFolderName = DefaultFolderName
	}
	if config.ServerFolderName == "" {
		config.ServerFolderName = DefaultFolderName
	}
	return &Client{config: &config}
}

// InvokeAPI makes a REST call to the data collector. The body must be a
// marshaled JSON byte array (or nil). The method is the HTTP verb (i.e.
// GET, POST, ...). The resource path is appended to the base REST URL, e.g.
// "StorageCenter/ScVolume/GetList".
func (c *Client) InvokeAPI(requestBody []byte, method string, resourcePath string) (*http.Response, []byte, error) {

	url := fmt.Sprintf("https://%s:%d/api/rest/%s", c.config.Hostname, c.config.Port, resourcePath)

	var request *http.Request
	var err error
	if requestBody == nil {
		request, err = http.NewRequest(method, url, nil)
	} else {
		request, err = http.NewRequest(method, url, bytes.NewBuffer(requestBody))
	}
	if err != nil {
		return nil, nil, err
	}

	request.SetBasicAuth(c.config.Username, c.config.Password)
	request.Header.Set("Content-Type", "application/json; charset=utf-8")
	request.Header.Set("x-dell-api-version", "2.0")

	if c.config.DebugTraceFlags["api"] {
		log.WithFields(log.Fields{
			"Method": method,
			"URL":    url,
			"Body":   string(requestBody),
		}).Debug("REST API request.")
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: !c.config.VerifyTLS}
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return response, nil, err
	}

	if c.config.DebugTraceFlags["api"] {
		log.WithFields(log.Fields{
			"Method": method,
			"URL":    url,
			"Status": response.Status,
			"Body":   string(responseBody),
		}).Debug("REST API response.")
	}

	return response, responseBody, nil
}

// Connect authenticates against the data collector and negotiates the
// payload filter shape from the reported API version.
func (c *Client) Connect() error {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{
			"Method": "Connect",
			"Type":   "Client",
			"host":   c.config.Hostname,
			"ssn":    c.config.SSN,
		}
		log.WithFields(fields).Debug(">>>> Connect")
		defer log.WithFields(fields).Debug("<<<< Connect")
	}

	requestBody, err := json.Marshal(LoginRequest{
		Application:        applicationName,
		ApplicationVersion: apiVersion,
	})
	if err != nil {
		return err
	}

	response, responseBody, err := c.InvokeAPI(requestBody, "POST", "ApiConnection/Login")
	if err != nil {
		return fmt.Errorf("could not connect to Enterprise Manager: %v", err)
	}
	if err := c.checkResult(response, responseBody, "Login"); err != nil {
		return err
	}

	loginResponse := LoginResponse{}
	if err := unmarshalFirst(responseBody, &loginResponse); err != nil || loginResponse.APIVersion == "" {
		// Good status but not the login response we were expecting. Assume
		// a modern release and carry on.
		log.WithField("body", string(responseBody)).Warn("Unrecognized login response.")
		return nil
	}

	c.apiVersion = loginResponse.APIVersion
	c.legacyPayloadFilters = isLegacyAPIVersion(loginResponse.APIVersion)

	log.WithFields(log.Fields{
		"apiVersion":           c.apiVersion,
		"legacyPayloadFilters": c.legacyPayloadFilters,
	}).Debug("Connected to Enterprise Manager.")

	return nil
}

// CloseConnection logs out of the data collector. Failures are logged and
// swallowed; there is nothing useful a caller can do with them.
func (c *Client) CloseConnection() {

	if c.config.DebugTraceFlags["method"] {
		fields := log.Fields{"Method": "CloseConnection", "Type": "Client"}
		log.WithFields(fields).Debug(">>>> CloseConnection")
		defer log.WithFields(fields).Debug("<<<< CloseConnection")
	}

	response, responseBody, err := c.InvokeAPI([]byte("{}"), "POST", "ApiConnection/Logout")
	if err != nil {
		log.WithField("error", err).Warn("Logout request failed.")
		return
	}
	if err := c.checkResult(response, responseBody, "Logout"); err != nil {
		log.WithField("error", err).Warn("Logout rejected.")
	}
}

// APIVersion returns the version string reported by the data collector on
// login, or empty before Connect.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

// isLegacyAPIVersion reports whether the given API version predates the
// nested payload filter shape introduced in 2.2.
func isLegacyAPIVersion(version string) bool {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return major < 2 || (major == 2 && minor < 2)
}

// getPayloadFilter returns an empty search filter in the shape the
// connected release expects.
func (c *Client) getPayloadFilter() *PayloadFilter {
	if c.legacyPayloadFilters {
		return NewLegacyPayloadFilter()
	}
	return NewPayloadFilter()
}

// Error is a struct for representing a Storage Center API error.
type Error struct {
	Code    int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("Storage Center API error: %d %s", e.Code, e.Message)
}

// checkResult turns a non-2xx response into an Error carrying the status
// and whatever the array put in the body.
func (c *Client) checkResult(response *http.Response, responseBody []byte, operation string) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}

	log.WithFields(log.Fields{
		"operation": operation,
		"code":      response.StatusCode,
		"status":    response.Status,
		"body":      string(responseBody),
	}).Error("API call failed.")

	message := response.Status
	if len(responseBody) > 0 {
		message = fmt.Sprintf("%s: %s", response.Status, string(responseBody))
	}
	return Error{Code: response.StatusCode, Message: fmt.Sprintf("%s failed: %s", operation, message)}
}

// The array returns either a bare JSON object or an array of objects
// depending on the endpoint and release. These helpers normalize both
// shapes.

// unmarshalFirst decodes the response into v, taking the first element when
// the body is an array. An empty body or empty array leaves v untouched.
func unmarshalFirst(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw[0], v)
	}
	return json.Unmarshal(trimmed, v)
}

// unmarshalList decodes the response into the slice pointed to by list,
// promoting a bare object to a single-element list.
func unmarshalList(body []byte, list any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '{' {
		wrapped := make([]byte, 0, len(trimmed)+2)
		wrapped = append(wrapped, '[')
		wrapped = append(wrapped, trimmed...)
		wrapped = append(wrapped, ']')
		return json.Unmarshal(wrapped, list)
	}
	return json.Unmarshal(trimmed, list)
}
