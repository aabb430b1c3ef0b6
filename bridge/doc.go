// Package bridge relays messages from an AMQP broker into parcelmq.
//
// Deployments that already publish work to RabbitMQ can point the ingress
// bridge at a queue and have every delivery re-enqueued through a
// parcelmq Producer, with AMQP message priority mapped onto the broker's
// priority classes. Deliveries are acknowledged only after the store push
// succeeds, so the relay inherits the broker's at-least-once guarantee.
package bridge
