package etc

import (
	"encoding/json"
	"io/ioutil"
	"time"

	log "github.com/sirupsen/logrus"
)

// CoordinatorConf configures the connection to the coordinator ensemble.
// Shaped after the teacher's etc.ReplicaConf: a flat JSON file, no env/flag
// overrides beyond the config path.
type CoordinatorConf struct {
	Servers        []string `json:"servers"`
	SessionTimeout Duration `json:"session_timeout"`
	Chroot         string   `json:"chroot"`
}

// Duration unmarshals from a Go duration string ("30s") in JSON config,
// since encoding/json has no native support for time.Duration text.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func ParseCoordinatorConf(confPath string) CoordinatorConf {
	confBytes, err := ioutil.ReadFile(confPath)
	if err != nil {
		log.Fatalf("failed to open coordinator config file: %v", err)
	}
	conf := CoordinatorConf{SessionTimeout: Duration{10 * time.Second}}
	if err := json.Unmarshal(confBytes, &conf); err != nil {
		log.Fatalf("failed to parse coordinator config file: %v", err)
	}
	return conf
}
