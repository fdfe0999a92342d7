// Package infra contains the adapters of the controller: the Marstek UDP
// client, the HomeWizard meter client, MQTT, metrics sinks and the logger.
// These packages depend only on the interfaces defined in the core packages.
package infra
