package interfaces

import "github.com/chrissnell/weatherhat/internal/weatherstations"

// WeatherStationManager defines the interface for managing weather stations
type WeatherStationManager interface {
	StartWeatherStations() error
	AddWeatherStation(deviceName string) error
	RemoveWeatherStation(deviceName string) error
	ReloadWeatherStationsConfig() error
	GetStation(deviceName string) weatherstations.WeatherStation
	StationNames() []string
}
