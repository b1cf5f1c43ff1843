// Package docs holds the swag-registered OpenAPI spec for the RUSLE
// erosion pipeline API, served at /swagger/* by fiber-swagger. Hand
// authored in the shape swag init normally generates, since this module
// fixes a path the teacher's own docs package never actually wired (its
// docs.Swagger lived at docs/swagger.go but main.go blank-imported the
// non-existent docs/swagger subpackage).
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "RUSLE Erosion Pipeline API",
	Description:      "Distributed pipeline computing the Revised Universal Soil Loss Equation over Tajikistan administrative or custom polygons, materialised as slippy-map raster tile pyramids.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
