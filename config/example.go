package config

// ExampleYaml is a complete configuration for a small classroom chamber:
// one grow light, one irrigation pump, one exhaust fan.
var ExampleYaml = `
logging:
  level: info
loop:
  tick: 250ms
  status_interval: 1m
safety:
  estop:
    gpio: {chip: gpiochip0, line: 17}
  override:
    gpio: {chip: gpiochip0, line: 27}
  reset:
    gpio: {chip: gpiochip0, line: 4}
sampling:
  period: 30s
  timeout: 2s
sensors:
  - id: air_temp
    kind: temperature
    unit: C
    min: -5
    max: 60
  - id: air_humidity
    kind: humidity
    unit: '%'
    min: 0
    max: 100
  - id: soil_moisture
    kind: moisture
    unit: '%'
    min: 0
    max: 100
actuators:
  - id: lights
    min_interval: 30s
    gpio: {chip: gpiochip0, line: 5}
  - id: pump
    min_interval: 5m
    max_runtime: 10m
    window: 1h
    max_pulse: 60s
    gpio: {chip: gpiochip0, line: 6}
  - id: fan
    min_interval: 1m
    gpio: {chip: gpiochip0, line: 13}
rules:
  - name: lights schedule
    actuator: lights
    window: {start: "06:00", end: "22:00"}
  - name: vent when hot
    actuator: fan
    sensor: air_temp
    threshold: {on_at: 28, off_at: 22}
  - name: morning watering
    when: 'soil_moisture < 30 && hour >= 8 && hour < 10'
    do: {actuator: pump, action: pulse, duration: 20s}
    cooldown: 6h
session:
  presence:
    gpio: {chip: gpiochip0, line: 22}
  grace: 10s
  buttons:
    - input: water_button
      gpio: {chip: gpiochip0, line: 23}
      activity: watering
      command: {actuator: pump, action: pulse, duration: 5s}
    - input: light_button
      gpio: {chip: gpiochip0, line: 24}
      activity: lighting
      command: {actuator: lights, action: "on"}
sinks:
  queue: 256
  mqtt: tcp://127.0.0.1:1883
  eventlog:
    path: /var/log/sproutbox/events.log
    max_size_mb: 10
    max_backups: 5
remote:
  broker: tcp://127.0.0.1:1883
  max_age: 2m
`

// ExampleConfig is ExampleYaml parsed, for tests.
var ExampleConfig, _ = OpenRaw([]byte(ExampleYaml))
