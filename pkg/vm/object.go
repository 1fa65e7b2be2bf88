package vm

// JObject represents a JVM object instance.
type JObject struct {
	ClassName string
	Class     *Class
	Fields    map[string]Value
}

// NewObject allocates an instance of class without running a constructor.
func NewObject(class *Class) *JObject {
	return &JObject{
		ClassName: class.Name,
		Class:     class,
		Fields:    make(map[string]Value),
	}
}
