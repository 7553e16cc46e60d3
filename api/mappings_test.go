// Copyright 2026 Dell Inc. All Rights Reserved.

package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapVolumeIsIdempotent(t *testing.T) {

	mapCalled := false

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScMappingProfile{
			{InstanceID: "64702.70", Server: &ScRef{InstanceID: "64702.40", InstanceName: "node1"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MapToServer", func(w http.ResponseWriter, r *http.Request) {
		mapCalled = true
		writeJSON(t, w, http.StatusOK, ScMappingProfile{InstanceID: "64702.99"})
	})

	client := newTestClient(t, mux)

	volume := &ScVolume{InstanceID: "64702.1", Name: "vol1", Active: true}
	server := &ScServer{InstanceID: "64702.40", Name: "node1"}

	profile, err := client.MapVolume(volume, server)
	require.NoError(t, err)
	require.NotNil(t, profile)

	// The existing profile is returned unchanged, no new mapping made.
	assert.Equal(t, "64702.70", profile.InstanceID)
	assert.False(t, mapCalled)
}

func TestMapVolume(t *testing.T) {

	var mapRequest MapToServerRequest

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScMappingProfile{})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MapToServer", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&mapRequest))
		writeJSON(t, w, http.StatusOK, ScMappingProfile{
			InstanceID: "64702.70",
			Server:     &ScRef{InstanceID: "64702.40"},
		})
	})

	client := newTestClient(t, mux)

	volume := &ScVolume{InstanceID: "64702.1", Name: "vol1", Active: true}
	server := &ScServer{InstanceID: "64702.40", Name: "node1"}

	profile, err := client.MapVolume(volume, server)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "64702.70", profile.InstanceID)

	assert.Equal(t, "64702.40", mapRequest.Server)
	require.NotNil(t, mapRequest.Advanced)
	assert.True(t, mapRequest.Advanced.MapToDownServerHbas)
	assert.Equal(t, 1, mapRequest.Advanced.MaximumPathCount)
	assert.False(t, mapRequest.Advanced.BootVolume)
	assert.True(t, mapRequest.Advanced.NoPreferredUseNextAvailable)
	assert.True(t, mapRequest.Advanced.UseNextAvailable)
}

func TestUnmapVolumeDeletesOnlyThisServer(t *testing.T) {

	deleted := make([]string, 0)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScMappingProfile{
			{InstanceID: "64702.70", Server: &ScRef{InstanceID: "64702.40"}},
			{InstanceID: "64702.71", Server: &ScRef{InstanceID: "64702.41"}},
			{InstanceID: "64702.72", Server: &ScRef{InstanceID: "64702.40"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScMappingProfile/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		deleted = append(deleted, r.URL.Path)
		writeJSON(t, w, http.StatusOK, true)
	})

	client := newTestClient(t, mux)

	volume := &ScVolume{InstanceID: "64702.1", Name: "vol1", Active: true}
	server := &ScServer{InstanceID: "64702.40", Name: "node1"}

	require.NoError(t, client.UnmapVolume(volume, server))
	assert.Equal(t, []string{
		"/api/rest/StorageCenter/ScMappingProfile/64702.70",
		"/api/rest/StorageCenter/ScMappingProfile/64702.72",
	}, deleted)
}

func TestUnmapVolumeStopsOnFirstFailure(t *testing.T) {

	attempts := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScMappingProfile{
			{InstanceID: "64702.70", Server: &ScRef{InstanceID: "64702.40"}},
			{InstanceID: "64702.71", Server: &ScRef{InstanceID: "64702.40"}},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScMappingProfile/", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "mapping busy", http.StatusInternalServerError)
	})

	client := newTestClient(t, mux)

	volume := &ScVolume{InstanceID: "64702.1", Name: "vol1", Active: true}
	server := &ScServer{InstanceID: "64702.40", Name: "node1"}

	// One failed unmap is as good as a hundred; fail and leave.
	err := client.UnmapVolume(volume, server)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestUnmapVolumeNothingMapped(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScMappingProfile{})
	})

	client := newTestClient(t, mux)

	volume := &ScVolume{InstanceID: "64702.1", Name: "vol1", Active: true}
	server := &ScServer{InstanceID: "64702.40", Name: "node1"}

	assert.NoError(t, client.UnmapVolume(volume, server))
}

func TestFindWwns(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScServer/64702.40/HbaList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScServerHba{
			{InstanceID: "64702.30", InstanceName: "21000024FF30441C", PortType: "FibreChannel"},
			{InstanceID: "64702.31", InstanceName: testIQN, PortType: "Iscsi"},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScMapping{
			{
				InstanceID: "64702.60", LUN: 1,
				ControllerPort: &ScRef{InstanceID: "64702.5000"},
				ServerHba:      &ScRef{InstanceID: "64702.30", InstanceName: "21000024FF30441C"},
			},
			{
				InstanceID: "64702.61", LUN: 1,
				ControllerPort: &ScRef{InstanceID: "64702.5001"},
				ServerHba:      &ScRef{InstanceID: "64702.32", InstanceName: "2100002537DE24BF"},
			},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScControllerPort/64702.5000", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, ScControllerPort{InstanceID: "64702.5000", Wwn: "5000D31000EE1B20"})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScControllerPort/64702.5001", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, ScControllerPort{InstanceID: "64702.5001", WwnLegacy: "5000D31000EE1B21"})
	})

	client := newTestClient(t, mux)

	volume := &ScVolume{InstanceID: "64702.1", Name: "vol1", Active: true}
	server := &ScServer{InstanceID: "64702.40", Name: "node1"}

	// The second mapping goes through an HBA belonging to someone else and
	// must be ignored.
	lun, wwns, itmap, err := client.FindWwns(volume, server)
	require.NoError(t, err)
	assert.Equal(t, 1, lun)
	assert.Equal(t, []string{"5000D31000EE1B20"}, wwns)
	assert.Equal(t, map[string][]string{"21000024FF30441C": {"5000D31000EE1B20"}}, itmap)
}

func TestInitVolumeMapsAndUnmapsAnUpServer(t *testing.T) {

	mapped := false
	unmapped := false

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScServer/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScServer{
			{InstanceID: "64702.41", Name: "node2", Status: "Down"},
			{InstanceID: "64702.40", Name: "node1", Status: "Up"},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/GetList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []ScVolume{
			{InstanceID: "64702.1", Name: "vol1", Active: true},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingProfileList", func(w http.ResponseWriter, r *http.Request) {
		profiles := []ScMappingProfile{}
		if mapped {
			profiles = append(profiles, ScMappingProfile{
				InstanceID: "64702.70", Server: &ScRef{InstanceID: "64702.40"},
			})
		}
		writeJSON(t, w, http.StatusOK, profiles)
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MapToServer", func(w http.ResponseWriter, r *http.Request) {
		mapped = true
		writeJSON(t, w, http.StatusOK, ScMappingProfile{
			InstanceID: "64702.70", Server: &ScRef{InstanceID: "64702.40"},
		})
	})
	mux.HandleFunc("/api/rest/StorageCenter/ScMappingProfile/64702.70", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		unmapped = true
		writeJSON(t, w, http.StatusOK, true)
	})

	client := newTestClient(t, mux)

	// The down server is skipped; the volume passes through a map/unmap
	// cycle on the up one.
	client.InitVolume(&ScVolume{InstanceID: "64702.1", Name: "vol1", ScSerialNumber: testSSN, Active: true})
	assert.True(t, mapped)
	assert.True(t, unmapped)
}

func TestFindMappingsInactiveVolume(t *testing.T) {

	mappingListCalled := false

	mux := http.NewServeMux()
	mux.HandleFunc("/api/rest/StorageCenter/ScVolume/64702.1/MappingList", func(w http.ResponseWriter, r *http.Request) {
		mappingListCalled = true
		writeJSON(t, w, http.StatusOK, []ScMapping{})
	})

	client := newTestClient(t, mux)

	mappings, err := client.findMappings(&ScVolume{InstanceID: "64702.1", Name: "vol1", Active: false})
	require.NoError(t, err)
	assert.Empty(t, mappings)
	assert.False(t, mappingListCalled)
}
