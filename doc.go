// The sproutbox growing environment controller
//
// sproutbox runs the control loop for an enclosed growing chamber: it
// samples environment sensors, evaluates automation rules, enforces safety
// interlocks and drives the chamber actuators (lights, irrigation pump,
// fans). Deployments with a human participant (classroom or therapy
// sessions) get presence-tracked sessions with logged activities and
// rate-limited manual controls.
//
// Features
//
// - Single-threaded deterministic tick loop (safety -> sample -> decide -> actuate)
//
// - Latching emergency stop with explicit reset, fail-safe on input faults
//
// - Hysteresis threshold rules, time-of-day windows and expression rules
//
// - Per-actuator rate limits: minimum interval and runtime budget per window
//
// - Controller-owned pulse timers (a crashed rule source cannot leave a pump on)
//
// - Presence sessions with grace timeout and activity log
//
// - Append-only event stream to MQTT, rotated JSONL files or sqlite
//
// - Lightweight, small memory footprint (runs on the Raspberry Pi)
package sproutbox
