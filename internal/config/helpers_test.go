package config

import "gopkg.in/yaml.v3"

type yamlNode = yaml.Node
