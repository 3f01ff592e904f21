package parser

import "github.com/aluiziolira/go-scrape-notebooks/models"

type attribute struct {
	label string
	set   func(n *models.Notebook, value string)
}

// attributes lists the technical parameters in column order. Labels are
// matched exactly as the catalog prints them.
var attributes = []attribute{
	{"Производитель", func(n *models.Notebook, v string) { n.Manufacturer = v }},
	{"Диагональ экрана", func(n *models.Notebook, v string) { n.Diagonal = v }},
	{"Разрешение экрана", func(n *models.Notebook, v string) { n.ScreenResolution = v }},
	{"Операционная система", func(n *models.Notebook, v string) { n.OS = v }},
	{"Процессор", func(n *models.Notebook, v string) { n.Processor = v }},
	{"Оперативная память", func(n *models.Notebook, v string) { n.OpMem = v }},
	{"Тип видеокарты", func(n *models.Notebook, v string) { n.TypeVideoCard = v }},
	{"Видеокарта", func(n *models.Notebook, v string) { n.VideoCard = v }},
	{"Тип накопителя", func(n *models.Notebook, v string) { n.TypeDrive = v }},
	{"Ёмкость накопителя", func(n *models.Notebook, v string) { n.CapacityDrive = v }},
	{"Время автономной работы", func(n *models.Notebook, v string) { n.AutoWorkTime = v }},
	{"Состояние", func(n *models.Notebook, v string) { n.State = v }},
}

var attributeSetters = func() map[string]func(*models.Notebook, string) {
	setters := make(map[string]func(*models.Notebook, string), len(attributes))
	for _, a := range attributes {
		setters[a.label] = a.set
	}
	return setters
}()

// AttributeLabels returns the recognised parameter labels in column order.
func AttributeLabels() []string {
	labels := make([]string, len(attributes))
	for i, a := range attributes {
		labels[i] = a.label
	}
	return labels
}

// SetAttribute writes value into the field registered for label. It reports
// false for labels outside the vocabulary.
func SetAttribute(n *models.Notebook, label, value string) bool {
	set, ok := attributeSetters[label]
	if !ok {
		return false
	}
	set(n, value)
	return true
}
