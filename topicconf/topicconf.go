package topicconf

import (
	"fmt"
	"sort"
)

// Config свойства топика: имя -> значение, в том виде, в котором их
// принимает librdkafka.
type Config map[string]interface{}

// Clone неглубокая копия, для nil возвращает nil.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	cp := make(Config, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// Set пустое имя недопустимо.
func (c Config) Set(name string, value interface{}) error {
	if name == "" {
		return fmt.Errorf("topic option name must not be empty")
	}
	c[name] = value
	return nil
}

func (c Config) Get(name string, defval interface{}) interface{} {
	if v, ok := c[name]; ok {
		return v
	}
	return defval
}

// Keys имена свойств по алфавиту.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge конфигурация топика для одного вызова.
//
// Без переопределений defaults возвращаются как есть (nil - значения
// библиотеки по умолчанию). Иначе поверх копии defaults применяются
// переопределения, пустые имена пропускаются. Сами defaults не меняются.
func Merge(defaults, overrides Config) Config {
	if len(overrides) == 0 {
		return defaults
	}

	merged := defaults.Clone()
	if merged == nil {
		merged = make(Config, len(overrides))
	}
	for name, value := range overrides {
		if name == "" {
			continue
		}
		merged[name] = value
	}
	return merged
}
