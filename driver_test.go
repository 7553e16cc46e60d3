// Copyright 2026 Dell Inc. All Rights Reserved.

package storagecenter

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dellstorage/storagecenter-flocker-driver/api"
	"github.com/dellstorage/storagecenter-flocker-driver/errors"
)

const (
	testSSN = int64(64702)
	testIQN = "iqn.1993-08.org.debian:01:abcdef123456"
)

var testDatasetID = uuid.MustParse("f7a4f4b2-5b51-4a41-8b41-5f5d6a8e2e1c")

// fakeHost satisfies HostUtils without touching the machine.
type fakeHost struct {
	mu sync.Mutex

	initiator   string
	logins      []string
	rescans     int
	devicePaths []string
	removed     [][]string
	waitPath    string
}

func (h *fakeHost) GetInitiatorName() (string, error) {
	return h.initiator, nil
}

func (h *fakeHost) Login(ip string, port int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logins = append(h.logins, fmt.Sprintf("%s:%d", ip, port))
	return nil
}

func (h *fakeHost) Rescan() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rescans++
	return nil
}

func (h *fakeHost) rescanCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rescans
}

func (h *fakeHost) FindDevicePaths(deviceID string) ([]string, error) {
	return h.devicePaths, nil
}

func (h *fakeHost) WaitForDevicePath(deviceID string) (string, error) {
	return h.waitPath, nil
}

func (h *fakeHost) RemoveDevices(paths []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, paths)
	return nil
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// newTestDriver stands up a fake data collector and returns a driver
// pointed at it. Session endpoints are handled here so tests only declare
// the array objects they care about.
func newTestDriver(t *testing.T, mux *http.ServeMux, host *fakeHost) *Driver {
	t.Helper()

	mux.HandleFunc("/api/rest/ApiConnection/Login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.LoginResponse{APIVersion: "3.5.1"})
	})
	mux.HandleFunc("/api/rest/ApiConnection/Logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{})
	})

	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	hostname, portText, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	return NewDriverDetailed(Config{
		Hostname: hostname,
		Port:     port,
		Username: "admin",
		Password: "password",
		SSN:      testSSN,
	}, host)
}

// registerVolume makes the named volume findable.
func registerVolume(t *testing.T, mux *http.ServeMux, volume api.ScVolume) {
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScVolume{volume})
	})
}

// registerServer makes the host initiator resolve to a server object.
func registerServer(t *testing.T, mux *http.ServeMux) {
	mux.HandleFunc("/api/rest/StorageCenter/ScServerHba/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScServerHba{
			{InstanceID: "64702.30", InstanceName: testIQN, Server: &api.ScRef{InstanceID: "64702.40"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScServer/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScServer{
			{InstanceID: "64702.40", Name: "node1", InstanceName: "node1", Status: "Up"},
		})
	})
}

func TestCreateVolume(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolumeFolder/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScFolder{
			{InstanceID: "64702.9", Name: "Flocker", ScSerialNumber: testSSN},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume", func(w http.ResponseWriter, r *http.Request) {
		var request api.CreateVolumeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, testDatasetID.String(), request.Name)
		assert.Equal(t, "10 GB", request.Size)
		writeJSON(t, w, http.StatusCreated, api.ScVolume{
			InstanceID:     "64702.1",
			Name:           request.Name,
			ConfiguredSize: "10737418240 Bytes",
		})
	})

	driver := newTestDriver(t, mux, &fakeHost{})

	volume, err := driver.CreateVolume(testDatasetID, 10*AllocationUnit)
	require.NoError(t, err)
	assert.Equal(t, testDatasetID.String(), volume.BlockDeviceID)
	assert.Equal(t, int64(10737418240), volume.Size)
	assert.Equal(t, testDatasetID, volume.DatasetID)
	assert.Empty(t, volume.AttachedTo)
}

func TestDestroyVolumeUnknown(t *testing.T) {

	deleteCalled := false
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScVolume{})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/", func(w http.ResponseWriter, r *http.Request) {
		deleteCalled = true
	})

	driver := newTestDriver(t, mux, &fakeHost{})

	err := driver.DestroyVolume("no-such-volume")
	assert.True(t, errors.IsNotFoundError(err))
	assert.False(t, deleteCalled)
}

func TestAttachVolume(t *testing.T) {

	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
		ConfiguredSize: "10737418240 Bytes", DeviceID: "6000d31000ee1b01",
	})
	registerServer(t, mux)
	mux.HandleFunc("/api/rest/StorageCenter/ScFaultDomain/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScFaultDomain{
			{TargetIpv4Address: "172.16.1.10", PortNumber: 3260},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MapToServer", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.ScMappingProfile{
			InstanceID: "64702.70", Server: &api.ScRef{InstanceID: "64702.40"},
		})
	})

	host := &fakeHost{initiator: testIQN}
	driver := newTestDriver(t, mux, host)

	volume, err := driver.AttachVolume(testDatasetID.String(), "node1")
	require.NoError(t, err)
	assert.Equal(t, "node1", volume.AttachedTo)
	assert.Equal(t, []string{"172.16.1.10:3260"}, host.logins)

	// The rescan is fired without being awaited.
	require.Eventually(t, func() bool { return host.rescanCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestAttachVolumeAlreadyAttached(t *testing.T) {

	mapCalled := false
	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
	})
	registerServer(t, mux)
	mux.HandleFunc("/api/rest/StorageCenter/ScFaultDomain/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScFaultDomain{})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScControllerPortIscsiConfiguration/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScControllerPortIscsiConfiguration{})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		// Mapped somewhere, even possibly to this very host.
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{
			{InstanceID: "64702.70", Server: &api.ScRef{InstanceID: "64702.40", InstanceName: "node1"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MapToServer", func(w http.ResponseWriter, r *http.Request) {
		mapCalled = true
	})

	host := &fakeHost{initiator: testIQN}
	driver := newTestDriver(t, mux, host)

	_, err := driver.AttachVolume(testDatasetID.String(), "node1")
	assert.True(t, errors.IsAlreadyAttachedError(err))
	assert.False(t, mapCalled)
}

func TestDetachVolume(t *testing.T) {

	unmapped := false
	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
		DeviceID: "6000d31000ee1b01",
	})
	registerServer(t, mux)
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{
			{InstanceID: "64702.70", Server: &api.ScRef{InstanceID: "64702.40", InstanceName: "node1"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScMappingProfile/64702.70", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		unmapped = true
		writeJSON(t, w, http.StatusOK, true)
	})

	host := &fakeHost{initiator: testIQN, devicePaths: []string{"/dev/sda"}}
	driver := newTestDriver(t, mux, host)

	require.NoError(t, driver.DetachVolume(testDatasetID.String()))
	assert.True(t, unmapped)
	assert.Equal(t, [][]string{{"/dev/sda"}}, host.removed)

	require.Eventually(t, func() bool { return host.rescanCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestDetachVolumeUnattached(t *testing.T) {

	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{})
	})

	host := &fakeHost{initiator: testIQN}
	driver := newTestDriver(t, mux, host)

	err := driver.DetachVolume(testDatasetID.String())
	assert.True(t, errors.IsUnattachedError(err))
	assert.Empty(t, host.removed)
}

func TestGetDevicePath(t *testing.T) {

	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
		DeviceID: "6000d31000ee1b01",
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{
			{InstanceID: "64702.70", Server: &api.ScRef{InstanceID: "64702.40"}},
		})
	})

	host := &fakeHost{waitPath: "/dev/sdb"}
	driver := newTestDriver(t, mux, host)

	path, err := driver.GetDevicePath(testDatasetID.String())
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb", path)
}

func TestGetDevicePathUnattached(t *testing.T) {

	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
		DeviceID: "6000d31000ee1b01",
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{})
	})

	driver := newTestDriver(t, mux, &fakeHost{})

	_, err := driver.GetDevicePath(testDatasetID.String())
	assert.True(t, errors.IsUnattachedError(err))
}

func TestResizeVolume(t *testing.T) {

	var expandRequest api.ExpandVolumeRequest
	mux := http.NewServeMux()
	registerVolume(t, mux, api.ScVolume{
		InstanceID: "64702.1", Name: testDatasetID.String(), Active: true,
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/ExpandToSize", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&expandRequest))
		writeJSON(t, w, http.StatusOK, api.ScVolume{
			InstanceID: "64702.1", ConfiguredSize: "21474836480 Bytes",
		})
	})

	driver := newTestDriver(t, mux, &fakeHost{})

	require.NoError(t, driver.ResizeVolume(testDatasetID.String(), 20*AllocationUnit))
	assert.Equal(t, "20 GB", expandRequest.NewSize)
}

func TestListVolumes(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolumeFolder/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScFolder{
			{InstanceID: "64702.9", Name: "Flocker", ScSerialNumber: testSSN},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScVolume{
			{InstanceID: "64702.1", Name: testDatasetID.String(), Active: true, ConfiguredSize: "10737418240 Bytes"},
			{InstanceID: "64702.2", Name: "not-a-dataset", ConfiguredSize: "5368709120 Bytes"},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{
			{InstanceID: "64702.70", Server: &api.ScRef{InstanceID: "64702.40", InstanceName: "node1"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.2/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []api.ScMappingProfile{})
	})

	driver := newTestDriver(t, mux, &fakeHost{})

	volumes, err := driver.ListVolumes()
	require.NoError(t, err)
	require.Len(t, volumes, 2)

	assert.Equal(t, "node1", volumes[0].AttachedTo)
	assert.Equal(t, testDatasetID, volumes[0].DatasetID)
	assert.Equal(t, int64(10737418240), volumes[0].Size)

	assert.Empty(t, volumes[1].AttachedTo)
	assert.Equal(t, uuid.Nil, volumes[1].DatasetID)
}

func TestBytesToGiB(t *testing.T) {
	assert.Equal(t, int64(1), bytesToGiB(AllocationUnit))
	assert.Equal(t, int64(100), bytesToGiB(100*AllocationUnit))
}
