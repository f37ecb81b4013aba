package views

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"lacrosse-alerts/internal/lacrosse"
	"lacrosse-alerts/internal/modules/devices/types"
)

//go:embed templates
var viewsFS embed.FS

var deviceTmpl *template.Template

func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	deviceTmpl, err = template.ParseFS(sub, "*.html", "partials/*.html")
	return err
}

// LoadTemplates parses the embedded templates. Call it during startup.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// EntityRow is one line of the readings table.
type EntityRow struct {
	Name      string
	State     string
	Unit      string
	Available bool
}

type DeviceData struct {
	DeviceID   string
	Name       string
	Model      string
	Valid      bool
	MeasuredAt string
	Entities   []EntityRow
}

// NewDeviceData builds the page model from the stored device and the live
// view.
func NewDeviceData(name string, cur types.Current) DeviceData {
	data := DeviceData{
		DeviceID: cur.DeviceID,
		Name:     name,
		Valid:    cur.Valid,
	}
	if model, ok := cur.Attributes[lacrosse.AttrDeviceType].(string); ok {
		data.Model = model
	}
	if at, ok := cur.Attributes[lacrosse.AttrMeasuredTime].(string); ok {
		data.MeasuredAt = at
	}
	for _, e := range cur.Entities {
		row := EntityRow{Name: e.Name, Unit: e.Unit, Available: e.State != nil}
		if row.Available {
			row.State = fmt.Sprint(e.State)
		}
		data.Entities = append(data.Entities, row)
	}
	return data
}

func RenderDevice(w io.Writer, data DeviceData) error {
	if deviceTmpl == nil {
		return errors.New("device template not loaded: call views.LoadTemplates during startup")
	}
	return deviceTmpl.ExecuteTemplate(w, "device.html", data)
}

// RenderReadingsPartial renders only the readings table.
func RenderReadingsPartial(w io.Writer, data DeviceData) error {
	if deviceTmpl == nil {
		return errors.New("device template not loaded: call views.LoadTemplates during startup")
	}
	return deviceTmpl.ExecuteTemplate(w, "partials/readings.html", data)
}
