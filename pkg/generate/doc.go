// Package generate guards calls to the language-generation collaborator.
//
// Generation is optional wording on top of deterministic templates: a slow,
// failing or superseded call never blocks the conversation, and the
// templated text is used whenever no generated text is available.
package generate
