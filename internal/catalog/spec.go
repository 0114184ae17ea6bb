package catalog

// File is the on-disk shape of the catalog YAML.
//
//	groups:
//	  - name: modis-ndvi-tiles
//	    kind: SOURCE
//	    date_pattern: 'A(?P<year>\d{4})(?P<doy>\d{3})'
//	    discovery: s3
//	    location: s3://eo-raw/modis/ndvi/
//	  - name: ndvi-mosaic
//	    kind: PRODUCT
//	pipelines:
//	  - name: ndvi-mosaic
//	    inputs: [modis-ndvi-tiles]
//	    output: ndvi-mosaic
//	    function: bundle
//	    kwargs: {format: zip}
//	    template: 'ndvi_mosaic_{YYYYMMDD}.zip'
//	expected_counts:
//	  modis-ndvi-tiles: 25
type File struct {
	Groups         []GroupSpec    `yaml:"groups" validate:"required,min=1,dive"`
	Pipelines      []PipelineSpec `yaml:"pipelines" validate:"dive"`
	ExpectedCounts map[string]int `yaml:"expected_counts"`
}

type GroupSpec struct {
	Name         string `yaml:"name" validate:"required"`
	Kind         string `yaml:"kind" validate:"required,oneof=SOURCE PRODUCT"`
	DatePattern  string `yaml:"date_pattern"`
	Discovery    string `yaml:"discovery" validate:"omitempty,oneof=manual s3 http_index"`
	Location     string `yaml:"location"`
	AutoDownload bool   `yaml:"auto_download"`
}

type PipelineSpec struct {
	Name               string            `yaml:"name" validate:"required"`
	Inputs             []string          `yaml:"inputs" validate:"required,min=1,dive,required"`
	Output             string            `yaml:"output" validate:"required"`
	Function           string            `yaml:"function" validate:"required"`
	Kwargs             map[string]string `yaml:"kwargs"`
	Template           string            `yaml:"template" validate:"required"`
	Enabled            *bool             `yaml:"enabled"`
	Window             *WindowSpec       `yaml:"window"`
	RegenerateOnUpdate bool              `yaml:"regenerate_on_update"`
}

// WindowSpec bounds the reference dates a pipeline materializes, as MM-DD
// inclusive on both ends. From after To wraps over the new year.
type WindowSpec struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}
