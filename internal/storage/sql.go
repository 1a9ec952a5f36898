package storage

import (
	_ "embed"
)

const (
	insertReadingSQL = `
INSERT INTO sensor_readings (session_id,
                             timestamp,
                             latitude,
                             longitude,
                             altitude,
                             accel_x,
                             accel_y,
                             accel_z,
                             gyro_x,
                             gyro_y,
                             gyro_z,
                             dac_1,
                             dac_2,
                             dac_3,
                             dac_4)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectReadingsSQL = `
SELECT id,
       session_id,
       timestamp,
       latitude,
       longitude,
       altitude,
       accel_x,
       accel_y,
       accel_z,
       gyro_x,
       gyro_y,
       gyro_z,
       dac_1,
       dac_2,
       dac_3,
       dac_4
FROM sensor_readings
ORDER BY id`
)

//go:embed schema.sql
var initSchemaSQL string
