// Copyright 2026 Dell Inc. All Rights Reserved.

// Package iscsi manages the host side of iSCSI attachment: initiator
// identity, target portal sessions and local SCSI device discovery and
// teardown. Nothing here keeps state; everything is re-derived from the
// host on each call.
package iscsi

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/dellstorage/storagecenter-flocker-driver/errors"
)

const (
	initiatorNameFile = "/etc/iscsi/initiatorname.iscsi"
	scsiIDCommand     = "/lib/udev/scsi_id"

	// DefaultPort is the well-known iSCSI target port.
	DefaultPort = 3260

	devicePollInterval   = 5 * time.Second
	maxDevicePollRetries = 3 // 4 attempts total
	deviceRemovalPause   = 1 * time.Second
)

// CommandFunc runs a host command and returns its combined output.
type CommandFunc func(name string, args ...string) ([]byte, error)

// Client runs host iSCSI operations. The filesystem and command executor
// are injectable so everything can be exercised without a real host.
type Client struct {
	fs      afero.Afero
	command CommandFunc

	pollInterval time.Duration
	removalPause time.Duration
}

// New returns a Client backed by the real host.
func New() *Client {
	return NewDetailed(afero.Afero{Fs: afero.NewOsFs()}, execCommand)
}

// NewDetailed returns a Client backed by the supplied filesystem and
// command executor.
func NewDetailed(fs afero.Afero, command CommandFunc) *Client {
	return &Client{
		fs:           fs,
		command:      command,
		pollInterval: devicePollInterval,
		removalPause: deviceRemovalPause,
	}
}

// execCommand invokes an external shell command.
func execCommand(name string, args ...string) ([]byte, error) {

	log.WithFields(log.Fields{
		"command": name,
		"args":    args,
	}).Debug(">>>> iscsi.execCommand.")

	out, err := exec.Command(name, args...).CombinedOutput()

	log.WithFields(log.Fields{
		"command": name,
		"output":  string(out),
		"error":   err,
	}).Debug("<<<< iscsi.execCommand.")

	return out, err
}

// GetInitiatorName returns the host's iSCSI initiator IQN from the
// open-iscsi configuration file.
func (c *Client) GetInitiatorName() (string, error) {

	log.Debug(">>>> iscsi.GetInitiatorName")
	defer log.Debug("<<<< iscsi.GetInitiatorName")

	contents, err := c.fs.ReadFile(initiatorNameFile)
	if err != nil {
		return "", fmt.Errorf("could not read %s: %v", initiatorNameFile, err)
	}

	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "InitiatorName=") {
			return strings.TrimPrefix(line, "InitiatorName="), nil
		}
	}
	return "", errors.NotFoundError("no InitiatorName found in %s", initiatorNameFile)
}

// discoveredTarget is one line of sendtargets discovery output.
type discoveredTarget struct {
	Portal     string
	TargetName string
}

// discovery runs sendtargets discovery against a portal.
//
//	iscsiadm -m discovery -t st -p 172.16.1.10:3260
//
//	172.16.1.10:3260,1 iqn.2002-03.com.compellent:5000d31000ee1b01
//	172.16.1.11:3260,2 iqn.2002-03.com.compellent:5000d31000ee1b02
func (c *Client) discovery(ip string, port int) ([]discoveredTarget, error) {

	portal := fmt.Sprintf("%s:%d", ip, port)

	log.WithField("portal", portal).Debug(">>>> iscsi.discovery")
	defer log.Debug("<<<< iscsi.discovery")

	out, err := c.command("iscsiadm", "-m", "discovery", "-t", "sendtargets", "-p", portal)
	if err != nil {
		return nil, fmt.Errorf("discovery of %s failed: %v", portal, err)
	}

	targets := make([]discoveredTarget, 0)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		target := discoveredTarget{
			Portal:     strings.Split(fields[0], ",")[0],
			TargetName: fields[1],
		}
		targets = append(targets, target)

		log.WithFields(log.Fields{
			"Portal":     target.Portal,
			"TargetName": target.TargetName,
		}).Debug("Adding iSCSI discovery info.")
	}
	return targets, nil
}

// manageSessions discovers the targets behind a portal and logs in or out
// of each of them. A failed login to one target does not stop the others;
// the array serves the volume on whatever paths did come up.
func (c *Client) manageSessions(ip string, port int, action string) error {

	targets, err := c.discovery(ip, port)
	if err != nil {
		return err
	}

	for _, target := range targets {
		_, err := c.command("iscsiadm", "-m", "node", action, "-T", target.TargetName, "-p", target.Portal)
		if err != nil {
			log.WithFields(log.Fields{
				"target": target.TargetName,
				"portal": target.Portal,
				"error":  err,
			}).Info("Error logging in.")
			continue
		}
		log.WithFields(log.Fields{
			"action": action,
			"target": target.TargetName,
			"portal": target.Portal,
		}).Info("Performed session action.")
	}
	return nil
}

// Login discovers and logs in to every target behind the given portal.
func (c *Client) Login(ip string, port int) error {

	log.WithFields(log.Fields{"ip": ip, "port": port}).Debug(">>>> iscsi.Login")
	defer log.Debug("<<<< iscsi.Login")

	return c.manageSessions(ip, port, "-l")
}

// Logout logs out of every target behind the given portal.
func (c *Client) Logout(ip string, port int) error {

	log.WithFields(log.Fields{"ip": ip, "port": port}).Debug(">>>> iscsi.Logout")
	defer log.Debug("<<<< iscsi.Logout")

	return c.manageSessions(ip, port, "-u")
}

// Rescan asks every established session to rescan for lun changes. Callers
// that cannot wait run this in a goroutine and poll for the device instead.
func (c *Client) Rescan() error {

	log.Debug(">>>> iscsi.Rescan")
	defer log.Debug("<<<< iscsi.Rescan")

	start := time.Now()
	out, err := c.command("iscsiadm", "-m", "session", "--rescan")
	if err != nil {
		log.WithFields(log.Fields{
			"output": string(out),
			"error":  err,
		}).Warn("iSCSI rescan failed.")
		return err
	}

	log.WithField("duration", time.Since(start)).Info("iSCSI rescan complete.")
	return nil
}
