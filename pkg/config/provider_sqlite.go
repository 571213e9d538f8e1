package config

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema is applied by EnsureSchema. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TEXT,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_id INTEGER NOT NULL REFERENCES configs(id),
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		backend TEXT NOT NULL DEFAULT '',
		i2c_bus TEXT NOT NULL DEFAULT '',
		bme280_address INTEGER NOT NULL DEFAULT 0,
		ads1115_address INTEGER NOT NULL DEFAULT 0,
		anemometer_gpio TEXT NOT NULL DEFAULT '',
		rain_gpio TEXT NOT NULL DEFAULT '',
		vane_channel INTEGER NOT NULL DEFAULT 0,
		vane_reference REAL NOT NULL DEFAULT 0,
		temperature_offset REAL,
		wind_wheel_radius_cm REAL NOT NULL DEFAULT 0,
		wind_calibration_factor REAL NOT NULL DEFAULT 0,
		rain_mm_per_tick REAL NOT NULL DEFAULT 0,
		counter_modulus INTEGER NOT NULL DEFAULT 0,
		history_depth INTEGER NOT NULL DEFAULT 0,
		wind_direction_samples INTEGER NOT NULL DEFAULT 0,
		sample_interval TEXT NOT NULL DEFAULT '',
		poll_interval TEXT NOT NULL DEFAULT '',
		circular_wind_average INTEGER NOT NULL DEFAULT 0,
		max_wind_speed REAL NOT NULL DEFAULT 0,
		max_rain_rate REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS mqtt_configs (
		config_id INTEGER PRIMARY KEY REFERENCES configs(id),
		broker TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 0,
		client_id TEXT NOT NULL DEFAULT '',
		topic_prefix TEXT NOT NULL DEFAULT '',
		qos INTEGER NOT NULL DEFAULT 0,
		retain INTEGER NOT NULL DEFAULT 0,
		username TEXT,
		password TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS controller_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_id INTEGER NOT NULL REFERENCES configs(id),
		controller_type TEXT NOT NULL,
		tls_cert TEXT,
		tls_key TEXT,
		port INTEGER NOT NULL DEFAULT 0,
		listen_addr TEXT,
		enable_msgpack INTEGER NOT NULL DEFAULT 0
	)`,
}

const deviceColumns = `
	name, type, enabled, backend, i2c_bus, bme280_address, ads1115_address,
	anemometer_gpio, rain_gpio, vane_channel, vane_reference, temperature_offset,
	wind_wheel_radius_cm, wind_calibration_factor, rain_mm_per_tick, counter_modulus,
	history_depth, wind_direction_samples, sample_interval, poll_interval,
	circular_wind_average, max_wind_speed, max_rain_rate`

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// EnsureSchema creates the configuration tables if they do not exist.
func (s *SQLiteProvider) EnsureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	devices, err := s.GetDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	config.Devices = devices

	telemetry, err := s.GetTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load telemetry config: %w", err)
	}
	config.Telemetry = *telemetry

	controllers, err := s.GetControllers()
	if err != nil {
		return nil, fmt.Errorf("failed to load controllers: %w", err)
	}
	config.Controllers = controllers

	return config, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (DeviceData, error) {
	var device DeviceData
	var offset sql.NullFloat64

	err := row.Scan(
		&device.Name, &device.Type, &device.Enabled, &device.Backend, &device.I2CBus,
		&device.BME280Address, &device.ADS1115Address, &device.AnemometerGPIO, &device.RainGPIO,
		&device.VaneChannel, &device.VaneReference, &offset,
		&device.WindWheelRadiusCM, &device.WindCalibrationFactor, &device.RainMMPerTick, &device.CounterModulus,
		&device.HistoryDepth, &device.WindDirectionSamples, &device.SampleInterval, &device.PollInterval,
		&device.CircularWindAverage, &device.MaxWindSpeed, &device.MaxRainRate,
	)
	if err != nil {
		return DeviceData{}, err
	}

	// A NULL offset means "use the default"; zero is a legitimate offset.
	if offset.Valid {
		v := offset.Float64
		device.TemperatureOffset = &v
	}
	return device, nil
}

// GetDevices returns device configurations from the database
func (s *SQLiteProvider) GetDevices() ([]DeviceData, error) {
	rows, err := s.db.Query(`SELECT ` + deviceColumns + ` FROM devices
		WHERE config_id = (SELECT id FROM configs WHERE name = 'default')
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceData
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// GetDevice returns a single device by name
func (s *SQLiteProvider) GetDevice(name string) (*DeviceData, error) {
	row := s.db.QueryRow(`SELECT `+deviceColumns+` FROM devices WHERE name = ?`, name)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("failed to get device %s: %w", name, err)
	}
	return &device, nil
}

// GetTelemetryConfig returns telemetry configuration from the database
func (s *SQLiteProvider) GetTelemetryConfig() (*TelemetryData, error) {
	telemetry := &TelemetryData{}

	var m MQTTData
	var username, password sql.NullString
	err := s.db.QueryRow(`
		SELECT broker, port, client_id, topic_prefix, qos, retain, username, password
		FROM mqtt_configs
		WHERE config_id = (SELECT id FROM configs WHERE name = 'default')
	`).Scan(&m.Broker, &m.Port, &m.ClientID, &m.TopicPrefix, &m.QoS, &m.Retain, &username, &password)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return telemetry, nil
	case err != nil:
		return nil, fmt.Errorf("failed to query MQTT config: %w", err)
	}

	m.Username = username.String
	m.Password = password.String
	telemetry.MQTT = &m
	return telemetry, nil
}

// GetControllers returns controller configurations from the database
func (s *SQLiteProvider) GetControllers() ([]ControllerData, error) {
	rows, err := s.db.Query(`
		SELECT controller_type, tls_cert, tls_key, port, listen_addr, enable_msgpack
		FROM controller_configs
		WHERE config_id = (SELECT id FROM configs WHERE name = 'default')
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query controllers: %w", err)
	}
	defer rows.Close()

	var controllers []ControllerData
	for rows.Next() {
		var controllerType string
		var cert, key, listenAddr sql.NullString
		var rest RESTServerData

		if err := rows.Scan(&controllerType, &cert, &key, &rest.Port, &listenAddr, &rest.EnableMsgpack); err != nil {
			return nil, fmt.Errorf("failed to scan controller row: %w", err)
		}

		controller := ControllerData{Type: controllerType}
		switch controllerType {
		case "rest", "restserver":
			rest.Cert = cert.String
			rest.Key = key.String
			rest.ListenAddr = listenAddr.String
			controller.RESTServer = &rest
		}
		controllers = append(controllers, controller)
	}
	return controllers, rows.Err()
}

// IsReadOnly returns false since SQLite supports write operations
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveConfig replaces the stored configuration with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	configID, err := s.getOrCreateConfigID(tx)
	if err != nil {
		return fmt.Errorf("failed to get config ID: %w", err)
	}

	for _, query := range []string{
		"DELETE FROM devices WHERE config_id = ?",
		"DELETE FROM mqtt_configs WHERE config_id = ?",
		"DELETE FROM controller_configs WHERE config_id = ?",
	} {
		if _, err := tx.Exec(query, configID); err != nil {
			return fmt.Errorf("failed to clear existing config: %w", err)
		}
	}

	for _, device := range configData.Devices {
		if err := s.insertDevice(tx, configID, &device); err != nil {
			return fmt.Errorf("failed to insert device %s: %w", device.Name, err)
		}
	}

	if m := configData.Telemetry.MQTT; m != nil {
		_, err := tx.Exec(`
			INSERT INTO mqtt_configs (config_id, broker, port, client_id, topic_prefix, qos, retain, username, password)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			configID, m.Broker, m.Port, m.ClientID, m.TopicPrefix, m.QoS, m.Retain,
			nullString(m.Username), nullString(m.Password))
		if err != nil {
			return fmt.Errorf("failed to insert MQTT config: %w", err)
		}
	}

	for _, controller := range configData.Controllers {
		if err := s.insertController(tx, configID, &controller); err != nil {
			return fmt.Errorf("failed to insert controller %s: %w", controller.Type, err)
		}
	}

	return tx.Commit()
}

// AddDevice adds a new device to the configuration
func (s *SQLiteProvider) AddDevice(device *DeviceData) error {
	if _, err := s.GetDevice(device.Name); err == nil {
		return fmt.Errorf("device %s already exists", device.Name)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	configID, err := s.getOrCreateConfigID(tx)
	if err != nil {
		return fmt.Errorf("failed to get config ID: %w", err)
	}

	if err := s.insertDevice(tx, configID, device); err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}

	return tx.Commit()
}

// DeleteDevice removes a device from the configuration
func (s *SQLiteProvider) DeleteDevice(name string) error {
	result, err := s.db.Exec("DELETE FROM devices WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", name, ErrDeviceNotFound)
	}
	return nil
}

func (s *SQLiteProvider) insertDevice(tx *sql.Tx, configID int64, device *DeviceData) error {
	var offset sql.NullFloat64
	if device.TemperatureOffset != nil {
		offset = sql.NullFloat64{Float64: *device.TemperatureOffset, Valid: true}
	}

	_, err := tx.Exec(`INSERT INTO devices (config_id, `+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		configID, device.Name, device.Type, device.Enabled, device.Backend, device.I2CBus,
		device.BME280Address, device.ADS1115Address, device.AnemometerGPIO, device.RainGPIO,
		device.VaneChannel, device.VaneReference, offset,
		device.WindWheelRadiusCM, device.WindCalibrationFactor, device.RainMMPerTick, device.CounterModulus,
		device.HistoryDepth, device.WindDirectionSamples, device.SampleInterval, device.PollInterval,
		device.CircularWindAverage, device.MaxWindSpeed, device.MaxRainRate,
	)
	return err
}

func (s *SQLiteProvider) insertController(tx *sql.Tx, configID int64, controller *ControllerData) error {
	var rest RESTServerData
	if controller.RESTServer != nil {
		rest = *controller.RESTServer
	}

	_, err := tx.Exec(`
		INSERT INTO controller_configs (config_id, controller_type, tls_cert, tls_key, port, listen_addr, enable_msgpack)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		configID, controller.Type, nullString(rest.Cert), nullString(rest.Key),
		rest.Port, nullString(rest.ListenAddr), rest.EnableMsgpack,
	)
	return err
}

// getOrCreateConfigID gets the default config ID, creating it if needed
func (s *SQLiteProvider) getOrCreateConfigID(tx *sql.Tx) (int64, error) {
	var configID int64
	err := tx.QueryRow("SELECT id FROM configs WHERE name = 'default'").Scan(&configID)
	if err == nil {
		return configID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	result, err := tx.Exec(`INSERT INTO configs (name, created_at, updated_at) VALUES ('default', datetime('now'), datetime('now'))`)
	if err != nil {
		return 0, fmt.Errorf("failed to create default config: %w", err)
	}
	return result.LastInsertId()
}

// Helper functions for handling nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
