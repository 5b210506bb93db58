package editor

// DefaultLanguage is what a fresh session opens in.
const DefaultLanguage = "javascript"

var templates = map[string]string{
	"javascript": "// JavaScript (Node.js)\nfunction greet(name) {\n  return `Hello, ${name}!`;\n}\nconsole.log(greet(\"World\"));",
	"python":     "# Python\ndef greet(name):\n    return f\"Hello, {name}!\"\nprint(greet(\"World\"))",
	"java":       "// Java\npublic class Main {\n    public static void main(String[] args) {\n        System.out.println(greet(\"World\"));\n    }\n\n    public static String greet(String name) {\n        return \"Hello, \" + name + \"!\";\n    }\n}",
	"c":          "// C\n#include <stdio.h>\n\nvoid greet(const char* name) {\n    printf(\"Hello, %s!\\n\", name);\n}\n\nint main() {\n    greet(\"World\");\n    return 0;\n}",
	"cpp":        "// C++\n#include <iostream>\n#include <string>\n\nvoid greet(const std::string& name) {\n    std::cout << \"Hello, \" << name << \"!\" << std::endl;\n}\n\nint main() {\n    greet(\"World\");\n    return 0;\n}",
	"csharp":     "// C#\nusing System;\n\nclass Program {\n    static void Main() {\n        Console.WriteLine(Greet(\"World\"));\n    }\n\n    static string Greet(string name) {\n        return $\"Hello, {name}!\";\n    }\n}",
	"go":         "// Go\npackage main\n\nimport \"fmt\"\n\nfunc greet(name string) string {\n\treturn fmt.Sprintf(\"Hello, %s!\", name)\n}\n\nfunc main() {\n\tfmt.Println(greet(\"World\"))\n}",
	"ruby":       "# Ruby\ndef greet(name)\n  \"Hello, #{name}!\"\nend\n\nputs greet(\"World\")",
	"php":        "<?php\n// PHP\nfunction greet($name) {\n    return \"Hello, $name!\";\n}\n\necho greet(\"World\");\n?>",
	"bash":       "#!/bin/bash\n# Bash\ngreet() {\n    echo \"Hello, $1!\"\n}\n\ngreet \"World\"",
}

// Template returns the starter code for language, or "" when there is none.
func Template(language string) string {
	return templates[language]
}
