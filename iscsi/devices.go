// Copyright 2026 Dell Inc. All Rights Reserved.

package iscsi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/dellstorage/storagecenter-flocker-driver/errors"
)

var scsiDeviceRegex = regexp.MustCompile(`^sd[a-z]+$`)

// FindDevicePaths returns the local paths of the SCSI devices whose
// page-0x83 identifier matches deviceID, in sorted order. When more than
// one raw device matches, the paths are different ports of the same lun;
// if device-mapper has already assembled them the multipath aggregate is
// prepended, making it the path of choice at index 0.
func (c *Client) FindDevicePaths(deviceID string) ([]string, error) {

	log.WithField("deviceID", deviceID).Debug(">>>> iscsi.FindDevicePaths")
	defer log.Debug("<<<< iscsi.FindDevicePaths")

	entries, err := c.fs.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("could not read /dev: %v", err)
	}

	paths := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if !scsiDeviceRegex.MatchString(name) {
			continue
		}
		out, err := c.command(scsiIDCommand, "--page=0x83", "--whitelisted", "--device=/dev/"+name)
		if err != nil {
			log.WithFields(log.Fields{
				"device": name,
				"error":  err,
			}).Debug("Error getting device id.")
			continue
		}
		if strings.Contains(string(out), deviceID) {
			log.WithFields(log.Fields{
				"deviceID": deviceID,
				"device":   name,
			}).Info("Found matching device.")
			paths = append(paths, "/dev/"+name)
		}
	}
	sort.Strings(paths)

	if len(paths) > 1 {
		if multipathDevice := c.findMultipathDevice(paths[0]); multipathDevice != "" {
			paths = append([]string{multipathDevice}, paths...)
		}
	}

	return paths, nil
}

// findMultipathDevice looks for a device-mapper aggregate that has the
// given raw device among its slaves and returns its /dev/mapper path, or
// empty when the device is not multipathed.
func (c *Client) findMultipathDevice(devicePath string) string {

	log.WithField("device", devicePath).Debug(">>>> iscsi.findMultipathDevice")
	defer log.Debug("<<<< iscsi.findMultipathDevice")

	disk := strings.TrimPrefix(devicePath, "/dev/")

	entries, err := c.fs.ReadDir("/sys/block")
	if err != nil {
		log.WithField("error", err).Debug("Could not read /sys/block.")
		return ""
	}

	for _, entry := range entries {
		dm := entry.Name()
		if !strings.HasPrefix(dm, "dm-") {
			continue
		}
		if exists, _ := c.fs.Exists("/sys/block/" + dm + "/slaves/" + disk); !exists {
			continue
		}
		// Prefer the stable mapper name over the dm-N node.
		if name, err := c.fs.ReadFile("/sys/block/" + dm + "/dm/name"); err == nil {
			mapperPath := "/dev/mapper/" + strings.TrimSpace(string(name))
			log.WithField("device", mapperPath).Debug("Found multipath device.")
			return mapperPath
		}
		return "/dev/" + dm
	}

	log.WithField("device", devicePath).Debug("No multipath device found.")
	return ""
}

// WaitForDevicePath polls for a local device matching deviceID, giving the
// transport a bounded amount of time to surface the lun after a rescan. A
// device that never shows up is not an error; the empty path tells the
// caller the device simply is not available yet.
func (c *Client) WaitForDevicePath(deviceID string) (string, error) {

	log.WithField("deviceID", deviceID).Debug(">>>> iscsi.WaitForDevicePath")
	defer log.Debug("<<<< iscsi.WaitForDevicePath")

	var paths []string

	checkDeviceExists := func() error {
		var err error
		paths, err = c.FindDevicePaths(deviceID)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.NotFoundError("device %s not present yet", deviceID)
		}
		return nil
	}
	deviceNotify := func(err error, duration time.Duration) {
		log.WithFields(log.Fields{
			"deviceID":  deviceID,
			"increment": duration,
		}).Debug("Device not yet present, waiting.")
	}

	deviceBackoff := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.pollInterval), maxDevicePollRetries)

	if err := backoff.RetryNotify(checkDeviceExists, deviceBackoff, deviceNotify); err != nil {
		log.WithField("deviceID", deviceID).Warn("Device not found before timeout.")
		return "", nil
	}

	return paths[0], nil
}

// RemoveDevices tears down the local paths of a lun that is about to be
// unmapped. A multipath aggregate is flushed by name, which unwinds the
// whole map; raw devices get their buffers flushed and are then deleted
// through sysfs. Every step is best effort: the returned error is a
// summary for logging, and callers must not fail a detach over it since
// the array-side unmap is what actually releases the volume.
func (c *Client) RemoveDevices(paths []string) error {

	log.WithField("paths", paths).Debug(">>>> iscsi.RemoveDevices")
	defer log.Debug("<<<< iscsi.RemoveDevices")

	var errs error
	for _, path := range paths {
		if strings.HasPrefix(path, "/dev/mapper/") {
			errs = multierr.Append(errs, c.flushMultipathDevice(path))
		} else {
			errs = multierr.Append(errs, c.removeScsiDevice(path))
		}
	}

	if errs != nil {
		log.WithField("error", errs).Warn("Device removal incomplete.")
	}
	return errs
}

// flushMultipathDevice removes a device-mapper multipath map by name.
func (c *Client) flushMultipathDevice(path string) error {

	name := strings.TrimPrefix(path, "/dev/mapper/")
	if out, err := c.command("multipath", "-f", name); err != nil {
		return fmt.Errorf("multipath flush of %s failed: %v (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// removeScsiDevice flushes a raw SCSI device and deletes it through sysfs.
// A device with no sysfs delete file is already gone.
func (c *Client) removeScsiDevice(path string) error {

	device := strings.TrimPrefix(path, "/dev/")
	deleteFile := fmt.Sprintf("/sys/block/%s/device/delete", device)

	if exists, _ := c.fs.Exists(deleteFile); !exists {
		return nil
	}

	var errs error
	if out, err := c.command("blockdev", "--flushbufs", path); err != nil {
		errs = multierr.Append(errs,
			fmt.Errorf("error flushing IO to %s: %v (%s)", path, err, strings.TrimSpace(string(out))))
	}
	time.Sleep(c.removalPause)

	if err := c.fs.WriteFile(deleteFile, []byte("1"), 0644); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("error removing device %s: %v", device, err))
	}
	time.Sleep(c.removalPause)

	return errs
}
