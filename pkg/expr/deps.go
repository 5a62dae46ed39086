package expr

import (
	"strconv"
	"strings"

	"github.com/jnarwell/trellis-sub000/pkg/models"
)

// ExtractDependencies walks the AST and collects one DependencyPath per
// unique (entity_ref, relationships, property, is_collection). #x and
// @self.x yield the same dependency.
func ExtractDependencies(node Node) []models.DependencyPath {
	var deps []models.DependencyPath
	collectDependencies(node, &deps)
	return models.DedupeDependencies(deps)
}

func collectDependencies(node Node, deps *[]models.DependencyPath) {
	switch n := node.(type) {
	case *Identifier:
		*deps = append(*deps, models.DependencyPath{
			EntityRef: SelfRef,
			Property:  n.Name,
			Path:      "#" + n.Name,
		})

	case *PropertyReference:
		*deps = append(*deps, referenceDependency(n))

	case *UnaryExpression:
		collectDependencies(n.Operand, deps)

	case *BinaryExpression:
		collectDependencies(n.Left, deps)
		collectDependencies(n.Right, deps)

	case *CallExpression:
		for _, arg := range n.Args {
			collectDependencies(arg, deps)
		}
	}
}

func referenceDependency(ref *PropertyReference) models.DependencyPath {
	dep := models.DependencyPath{
		EntityRef: ref.Base,
		Path:      collapsePath(ref),
	}

	last := len(ref.Segments) - 1
	for i, segment := range ref.Segments {
		if i == last {
			dep.Property = segment.Name
			if segment.Wildcard {
				dep.IsCollection = true
			}
			continue
		}
		dep.Relationships = append(dep.Relationships, segment.Name)
		if segment.Wildcard {
			dep.IsCollection = true
		}
	}

	return dep
}

func collapsePath(ref *PropertyReference) string {
	var sb strings.Builder
	if ref.Base == SelfRef {
		sb.WriteString("@self")
	} else {
		sb.WriteString("@{" + ref.Base + "}")
	}
	for _, segment := range ref.Segments {
		sb.WriteString("." + segment.Name)
		if segment.Wildcard {
			sb.WriteString("[*]")
		} else if segment.Index != nil {
			sb.WriteString("[" + strconv.Itoa(*segment.Index) + "]")
		}
	}
	return sb.String()
}
