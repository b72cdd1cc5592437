package httpapi

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const schemaCreateShipment = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orderId"],
  "properties": {
    "orderId": { "type": "string", "minLength": 1 },
    "carrier": { "type": "string" },
    "pickupPointId": { "type": "string" }
  },
  "additionalProperties": false
}`

const schemaCheckout = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["customerEmail", "shippingAddress", "shippingMethod", "items"],
  "definitions": {
    "address": {
      "type": "object",
      "required": ["name", "country"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "email": { "type": "string" },
        "phone": { "type": "string" },
        "country": { "type": "string", "minLength": 2, "maxLength": 2 },
        "postalCode": { "type": "string" },
        "city": { "type": "string" },
        "street": { "type": "string" }
      },
      "additionalProperties": false
    }
  },
  "properties": {
    "customerEmail": { "type": "string", "minLength": 3 },
    "shippingAddress": { "$ref": "#/definitions/address" },
    "billingAddress": { "$ref": "#/definitions/address" },
    "shippingMethod": { "type": "string", "minLength": 1 },
    "pickupPointId": { "type": "string" },
    "couponCode": { "type": "string" },
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["variantId", "quantity", "unitPrice"],
        "properties": {
          "variantId": { "type": "string", "minLength": 1 },
          "name": { "type": "string" },
          "quantity": { "type": "integer", "minimum": 1 },
          "unitPrice": { "type": ["number", "string"] }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var (
	createShipmentSchema = mustSchema(schemaCreateShipment)
	checkoutSchema       = mustSchema(schemaCheckout)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

func validateJSONSchema(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("request does not conform to schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
