package schema

// The shared entry schema gates every data entry: it must be an object with
// a string type. Unknown types stop here; known types continue into their
// dedicated schema below.
const sharedEntrySchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"}
  },
  "required": ["type"]
}`

const geoJSONPointSchema = `{
  "type": "object",
  "properties": {
    "type": {"type": "string", "enum": ["Point"]},
    "coordinates": {
      "type": "array",
      "minItems": 2,
      "maxItems": 2,
      "items": [
        {"type": "number", "minimum": -180, "maximum": 180},
        {"type": "number", "minimum": -90, "maximum": 90}
      ]
    }
  },
  "required": ["type", "coordinates"]
}`

var predefinedSchemas = map[string]string{
	"ambrosus.asset.identifiers": `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "identifiers": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "array",
        "minItems": 1,
        "items": {"type": "string"}
      }
    }
  },
  "required": ["type", "identifiers"]
}`,

	"ambrosus.event.identifiers": `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "identifiers": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "array",
        "minItems": 1,
        "items": {"type": "string"}
      }
    }
  },
  "required": ["type", "identifiers"]
}`,

	"ambrosus.asset.location": `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "geoJson": ` + geoJSONPointSchema + `,
    "name": {"type": "string"},
    "country": {"type": "string"},
    "city": {"type": "string"}
  },
  "required": ["type"]
}`,

	"ambrosus.event.location": `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "geoJson": ` + geoJSONPointSchema + `,
    "assetId": {"type": "string", "pattern": "^0x[a-fA-F0-9]{64}$"},
    "name": {"type": "string"},
    "country": {"type": "string"},
    "city": {"type": "string"}
  },
  "required": ["type"]
}`,

	"ambrosus.asset.info": `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "name": {"type": "string"},
    "description": {"type": "string"},
    "images": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "url": {"type": "string"}
        },
        "required": ["url"]
      }
    }
  },
  "required": ["type", "name"]
}`,
}
