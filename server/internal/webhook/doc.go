// Package webhook delivers cache change notifications to Teams, Slack or
// generic HTTP targets. Delivery is asynchronous and rate limited; every
// delivery carries a unique X-Delivery-ID header.
package webhook
