package types

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidDeviceType = errors.New("type must be one of desktop, mobile, gps_tracker")

type DeviceType string

const (
	DeviceDesktop    DeviceType = "desktop"
	DeviceMobile     DeviceType = "mobile"
	DeviceGPSTracker DeviceType = "gps_tracker"
)

// DeviceTypes lists every accepted device type in display order.
var DeviceTypes = []DeviceType{DeviceDesktop, DeviceMobile, DeviceGPSTracker}

// ParseDeviceType normalises a declared device type. An empty value means
// desktop, which is what agents that predate the type field report as.
func ParseDeviceType(s string) (DeviceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DeviceDesktop, nil
	}
	for _, t := range DeviceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrInvalidDeviceType
}

// DeviceSummary is the registry's public view of one live device connection.
type DeviceSummary struct {
	DeviceID    string     `json:"deviceId"`
	Type        DeviceType `json:"type"`
	ConnectedAt time.Time  `json:"connectedAt"`
	LastSeen    time.Time  `json:"lastSeen"`
}

type DeviceInfo struct {
	Hostname     string `json:"hostname,omitempty"`
	Username     string `json:"username,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Model        string `json:"model,omitempty"`
	Processor    string `json:"processor,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	AppVersion   string `json:"appVersion,omitempty"`
	BuildNumber  string `json:"buildNumber,omitempty"`
	Platform     string `json:"platform,omitempty"`
	PlatformVer  string `json:"platformVersion,omitempty"`
	IsEmulator   bool   `json:"isEmulator,omitempty"`
}

type Location struct {
	Latitude  float64  `json:"latitude" validate:"latitude"`
	Longitude float64  `json:"longitude" validate:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Method    string   `json:"method,omitempty"`
	Address   string   `json:"address,omitempty"`
	City      string   `json:"city,omitempty"`
	Country   string   `json:"country,omitempty"`
}

type DeviceStatus struct {
	Battery            *float64  `json:"battery,omitempty" validate:"omitempty,gte=0,lte=100"`
	Charging           *bool     `json:"charging,omitempty"`
	Signal             *float64  `json:"signal,omitempty" validate:"omitempty,gte=0,lte=100"`
	CPU                *float64  `json:"cpu,omitempty" validate:"omitempty,gte=0,lte=100"`
	Memory             *float64  `json:"memory,omitempty" validate:"omitempty,gte=0,lte=100"`
	Disk               *float64  `json:"disk,omitempty" validate:"omitempty,gte=0,lte=100"`
	NetworkConnections *int      `json:"networkConnections,omitempty"`
	Processes          *int      `json:"processes,omitempty"`
	Uptime             *float64  `json:"uptime,omitempty"`
	Online             bool      `json:"online"`
	LastSeen           time.Time `json:"lastSeen"`
}

type GeoPoint struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

type DeviceSettings struct {
	LocationUpdateInterval int       `json:"locationUpdateInterval" validate:"gte=5,lte=86400"`
	AllowRemoteCommands    bool      `json:"allowRemoteCommands"`
	AllowScreenLock        bool      `json:"allowScreenLock"`
	AllowMessages          bool      `json:"allowMessages"`
	GeofenceEnabled        bool      `json:"geofenceEnabled"`
	GeofenceRadius         float64   `json:"geofenceRadius" validate:"gte=0"`
	GeofenceCenter         *GeoPoint `json:"geofenceCenter,omitempty"`
}

// DefaultSettings are applied to devices the first time they are seen.
func DefaultSettings() DeviceSettings {
	return DeviceSettings{
		LocationUpdateInterval: 30,
		AllowRemoteCommands:    true,
		AllowScreenLock:        false,
		AllowMessages:          true,
		GeofenceEnabled:        false,
		GeofenceRadius:         1000,
	}
}

// DeviceRecord is the persisted document for one device.
type DeviceRecord struct {
	DeviceID   string         `json:"deviceId"`
	Type       DeviceType     `json:"type"`
	Name       string         `json:"name,omitempty"`
	Platform   string         `json:"platform,omitempty"`
	DeviceInfo DeviceInfo     `json:"deviceInfo"`
	Location   *Location      `json:"location,omitempty"`
	Status     DeviceStatus   `json:"status"`
	Settings   DeviceSettings `json:"settings"`
	Polling    bool           `json:"polling,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ConnectionStats summarises the live registries.
type ConnectionStats struct {
	TotalDevices  int                `json:"totalDevices"`
	TotalClients  int                `json:"totalClients"`
	DevicesByType map[DeviceType]int `json:"devicesByType"`
	UptimeSeconds float64            `json:"uptimeSeconds"`
}
