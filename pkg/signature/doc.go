// Package signature verifies the authenticity of inbound Outline
// webhooks. Outline signs each delivery with HMAC-SHA256 over
// "<timestamp>.<body>" and sends the result in the Outline-Signature
// header as "t=<timestamp>,s=<hex>".
package signature
