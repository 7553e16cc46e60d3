// Copyright 2026 Dell Inc. All Rights Reserved.

// Package storagecenter implements a block device driver for Dell Storage
// Center arrays. Volumes are provisioned through the Enterprise Manager
// REST API and attached to the local host over iSCSI.
package storagecenter

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dellstorage/storagecenter-flocker-driver/api"
	"github.com/dellstorage/storagecenter-flocker-driver/errors"
	"github.com/dellstorage/storagecenter-flocker-driver/iscsi"
)

// AllocationUnit is the minimum volume allocation unit; the Storage Center
// recommended minimum is 1 GiB.
const AllocationUnit = int64(1 << 30)

// Volume describes one driver-managed volume on the array.
type Volume struct {
	// BlockDeviceID is the unique volume identifier, which is also the
	// volume's name on the array.
	BlockDeviceID string

	// Size is the configured size in bytes.
	Size int64

	// AttachedTo is the server the volume is mapped to, or empty.
	AttachedTo string

	// DatasetID is the volume name parsed as a UUID, or the nil UUID for
	// volumes not named by one.
	DatasetID uuid.UUID
}

// HostUtils is the host-side surface the driver needs for iSCSI
// attachment. It is implemented by iscsi.Client.
type HostUtils interface {
	GetInitiatorName() (string, error)
	Login(ip string, port int) error
	Rescan() error
	FindDevicePaths(deviceID string) ([]string, error)
	WaitForDevicePath(deviceID string) (string, error)
	RemoveDevices(paths []string) error
}

// Driver is the Storage Center block device driver. Each array operation
// opens its own authenticated API session and releases it before
// returning.
type Driver struct {
	Config Config

	host              HostUtils
	computeInstanceID string
}

// NewDriver returns a driver backed by the real host.
func NewDriver(config Config) *Driver {
	return NewDriverDetailed(config, iscsi.New())
}

// NewDriverDetailed returns a driver using the supplied host utilities.
func NewDriverDetailed(config Config, host HostUtils) *Driver {
	return &Driver{Config: config, host: host}
}

// openConnection builds and authenticates an API client. The caller owns
// the session and must release it with CloseConnection.
func (d *Driver) openConnection() (*api.Client, error) {

	client := api.NewAPIClient(api.ClientConfig{
		Hostname:         d.Config.Hostname,
		Port:             d.Config.Port,
		Username:         d.Config.Username,
		Password:         d.Config.Password,
		VerifyTLS:        d.Config.VerifyTLS,
		SSN:              d.Config.SSN,
		VolumeFolderName: d.Config.VolumeFolderName,
		ServerFolderName: d.Config.ServerFolderName,
		DebugTraceFlags:  d.Config.DebugTraceFlags,
	})
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// toVolume converts an array volume object to a Volume record.
func toVolume(scVolume *api.ScVolume, attachedTo string) Volume {

	volume := Volume{
		BlockDeviceID: scVolume.Name,
		AttachedTo:    attachedTo,
	}

	// configuredSize reads like "107374182400 Bytes".
	sizeText := strings.TrimSuffix(scVolume.ConfiguredSize, " Bytes")
	if size, err := strconv.ParseFloat(sizeText, 64); err == nil {
		volume.Size = int64(size)
	} else {
		log.WithFields(log.Fields{
			"volume":         scVolume.Name,
			"configuredSize": scVolume.ConfiguredSize,
		}).Warn("Could not parse volume size.")
	}

	if datasetID, err := uuid.Parse(scVolume.Name); err == nil {
		volume.DatasetID = datasetID
	}

	return volume
}

// bytesToGiB converts a size in bytes to whole GiB for the array API.
// Callers are expected to have rounded to AllocationUnit already.
func bytesToGiB(size int64) int64 {
	return size / AllocationUnit
}

// ComputeInstanceID returns the identifier of this node, compared against
// Volume.AttachedTo to decide which volumes are locally attached. The
// node's hostname is used.
func (d *Driver) ComputeInstanceID() (string, error) {
	if d.computeInstanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return "", err
		}
		d.computeInstanceID = hostname
	}
	return d.computeInstanceID, nil
}

// CreateVolume creates a new volume named after the dataset ID, sized in
// whole GiB, placed in the configured volume folder and using the
// configured storage profile.
func (d *Driver) CreateVolume(datasetID uuid.UUID, size int64) (Volume, error) {

	log.WithFields(log.Fields{
		"datasetID": datasetID,
		"size":      size,
	}).Info("Creating volume.")

	client, err := d.openConnection()
	if err != nil {
		return Volume{}, err
	}
	defer client.CloseConnection()

	scVolume, err := client.CreateVolume(datasetID.String(), bytesToGiB(size), d.Config.StorageProfile)
	if err != nil {
		log.WithField("error", err).Error("Error creating volume.")
		return Volume{}, err
	}
	if scVolume == nil {
		return Volume{}, errors.NotFoundError("volume %s not found after creation", datasetID)
	}

	return toVolume(scVolume, ""), nil
}

// DestroyVolume deletes the volume. A volume that does not exist at all is
// an unknown-volume error; the deletion itself claims success when the
// array no longer has the volume by the time it runs.
func (d *Driver) DestroyVolume(blockDeviceID string) error {

	log.WithField("blockDeviceID", blockDeviceID).Info("Destroying volume.")

	client, err := d.openConnection()
	if err != nil {
		return err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return err
	}
	if scVolume == nil {
		return errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	return client.DeleteVolume(blockDeviceID)
}

// AttachVolume maps the volume to the server object representing attachTo,
// creating the server from the local initiator name if the array has never
// seen it. The host is logged in to every array portal first so new luns
// surface without operator help. A volume with any existing mapping is
// refused; attachment is exclusive.
func (d *Driver) AttachVolume(blockDeviceID, attachTo string) (Volume, error) {

	log.WithFields(log.Fields{
		"blockDeviceID": blockDeviceID,
		"attachTo":      attachTo,
	}).Info("Attaching volume.")

	client, err := d.openConnection()
	if err != nil {
		return Volume{}, err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return Volume{}, err
	}
	if scVolume == nil {
		return Volume{}, errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	// Make sure we have a server defined for this host.
	iqn, err := d.host.GetInitiatorName()
	if err != nil {
		return Volume{}, err
	}
	server, err := client.FindServer(iqn)
	if err != nil {
		return Volume{}, err
	}
	if server == nil {
		server, err = client.CreateServer(attachTo, iqn, false)
		if err != nil {
			return Volume{}, err
		}
		log.WithField("server", attachTo).Info("Created server.")
	}
	if server == nil {
		return Volume{}, errors.NotFoundError("unable to find or create server for %s", iqn)
	}

	// Make sure the host is logged in to the array.
	portals, err := client.GetISCSIPorts()
	if err != nil {
		return Volume{}, err
	}
	for _, portal := range portals {
		if err := d.host.Login(portal.IPAddress, portal.PortNumber); err != nil {
			log.WithFields(log.Fields{
				"portal": portal.IPAddress,
				"error":  err,
			}).Warn("Portal login failed.")
		}
	}

	// Refuse a volume that is mapped anywhere, even to this host.
	profiles, err := client.FindMappingProfiles(scVolume)
	if err != nil {
		return Volume{}, err
	}
	if len(profiles) > 0 {
		return Volume{}, errors.AlreadyAttachedError("volume %s is already attached", blockDeviceID)
	}

	if _, err := client.MapVolume(scVolume, server); err != nil {
		return Volume{}, err
	}

	d.doRescan()

	return toVolume(scVolume, attachTo), nil
}

// DetachVolume unmaps the volume from this host's server object. Local
// paths to the lun are torn down best-effort first; their failure never
// fails the detach, since the unmap is what actually releases the volume.
func (d *Driver) DetachVolume(blockDeviceID string) error {

	log.WithField("blockDeviceID", blockDeviceID).Info("Detaching volume.")

	client, err := d.openConnection()
	if err != nil {
		return err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return err
	}
	if scVolume == nil {
		return errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	profiles, err := client.FindMappingProfiles(scVolume)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return errors.UnattachedError("volume %s is not attached", blockDeviceID)
	}

	// Clean up the local devices before the lun disappears.
	if paths, err := d.host.FindDevicePaths(scVolume.DeviceID); err != nil {
		log.WithField("error", err).Warn("Local device lookup failed.")
	} else if err := d.host.RemoveDevices(paths); err != nil {
		log.WithField("error", err).Warn("Local device removal incomplete.")
	}

	iqn, err := d.host.GetInitiatorName()
	if err != nil {
		return err
	}
	server, err := client.FindServer(iqn)
	if err != nil {
		return err
	}
	if server == nil {
		instanceID, err := d.ComputeInstanceID()
		if err != nil {
			return err
		}
		server, err = client.CreateServer(instanceID, iqn, false)
		if err != nil {
			return err
		}
	}
	if server == nil {
		return errors.NotFoundError("unable to locate server for %s", iqn)
	}

	if err := client.UnmapVolume(scVolume, server); err != nil {
		return err
	}

	d.doRescan()
	return nil
}

// ListVolumes returns every volume in the configured volume folder, with
// AttachedTo populated from the first mapping profile.
func (d *Driver) ListVolumes() ([]Volume, error) {

	client, err := d.openConnection()
	if err != nil {
		return nil, err
	}
	defer client.CloseConnection()

	scVolumes, err := client.ListVolumes()
	if err != nil {
		log.WithField("error", err).Error("Error encountered listing volumes.")
		return nil, err
	}

	volumes := make([]Volume, 0, len(scVolumes))
	for i := range scVolumes {
		attachedTo := ""
		profiles, err := client.FindMappingProfiles(&scVolumes[i])
		if err != nil {
			return nil, err
		}
		if len(profiles) > 0 && profiles[0].Server != nil {
			attachedTo = profiles[0].Server.InstanceName
		}
		volumes = append(volumes, toVolume(&scVolumes[i], attachedTo))
	}
	return volumes, nil
}

// GetDevicePath returns the local device path of an attached volume,
// polling long enough for a recent rescan to surface the lun. An attached
// volume whose device has not appeared yet yields an empty path, not an
// error.
func (d *Driver) GetDevicePath(blockDeviceID string) (string, error) {

	deviceID, err := d.findMappedDeviceID(blockDeviceID)
	if err != nil {
		return "", err
	}

	// Session released; now give the device time to show up locally.
	return d.host.WaitForDevicePath(deviceID)
}

// findMappedDeviceID resolves the volume's page-0x83 device ID and checks
// that the volume is mapped. Split out so the API session is released
// before the device poll starts.
func (d *Driver) findMappedDeviceID(blockDeviceID string) (string, error) {

	client, err := d.openConnection()
	if err != nil {
		return "", err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return "", err
	}
	if scVolume == nil {
		return "", errors.NotFoundError("unknown volume %s", blockDeviceID)
	}
	if scVolume.DeviceID == "" {
		return "", errors.NotFoundError("volume %s has no device ID", blockDeviceID)
	}

	// If the volume is mapped at all it is assumed mapped to this host.
	profiles, err := client.FindMappingProfiles(scVolume)
	if err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return "", errors.UnattachedError("volume %s is not attached", blockDeviceID)
	}

	return scVolume.DeviceID, nil
}

// ResizeVolume expands the volume to the new size. Shrinking is not
// supported by the array.
func (d *Driver) ResizeVolume(blockDeviceID string, size int64) error {

	log.WithFields(log.Fields{
		"blockDeviceID": blockDeviceID,
		"size":          size,
	}).Info("Resizing volume.")

	client, err := d.openConnection()
	if err != nil {
		return err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return err
	}
	if scVolume == nil {
		return errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	_, err = client.ExpandVolume(scVolume, bytesToGiB(size))
	return err
}

// GetStorageProfile returns the name of the storage profile the volume is
// currently using.
func (d *Driver) GetStorageProfile(blockDeviceID string) (string, error) {

	client, err := d.openConnection()
	if err != nil {
		return "", err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return "", err
	}
	if scVolume == nil {
		return "", errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	config, err := client.GetVolumeConfiguration(scVolume)
	if err != nil {
		return "", err
	}
	if config.StorageProfile == nil {
		return "", nil
	}
	return config.StorageProfile.InstanceName, nil
}

// SetStorageProfile moves the volume to a different storage profile. An
// empty name resets it to the account default.
func (d *Driver) SetStorageProfile(blockDeviceID, profileName string) error {

	client, err := d.openConnection()
	if err != nil {
		return err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return err
	}
	if scVolume == nil {
		return errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	return client.UpdateStorageProfile(scVolume, profileName)
}

// GetISCSIProperties resolves the target paths of an attached volume,
// honoring the configured preferred portal.
func (d *Driver) GetISCSIProperties(blockDeviceID string) (*api.ISCSIProperties, error) {

	client, err := d.openConnection()
	if err != nil {
		return nil, err
	}
	defer client.CloseConnection()

	scVolume, err := client.FindVolume(blockDeviceID)
	if err != nil {
		return nil, err
	}
	if scVolume == nil {
		return nil, errors.NotFoundError("unknown volume %s", blockDeviceID)
	}

	return client.FindISCSIProperties(scVolume, d.Config.ISCSIIP, d.Config.ISCSIPort)
}

// doRescan kicks off a host SCSI rescan without waiting for it. Callers
// that need the resulting device poll for it with GetDevicePath.
func (d *Driver) doRescan() {
	go func() {
		if err := d.host.Rescan(); err != nil {
			log.WithField("error", err).Warn("Background rescan failed.")
		}
	}()
}
