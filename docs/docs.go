// Package docs регистрирует описание HTTP API для swagger UI.
//
// Обновляется командой swag init -g cmd/session-gate/main.go по аннотациям обработчиков.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Регистрация пользователя",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.DummyUser"}}],
                "responses": {
                    "201": {"description": "Пользователь создан", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Email уже занят", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "422": {"description": "Ошибка валидации", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Авторизация пользователя",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.DummyLogin"}}],
                "responses": {
                    "200": {"description": "Успешная авторизация", "schema": {"$ref": "#/definitions/response.Response"}},
                    "401": {"description": "Неверные учетные данные", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/credits": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Credits"],
                "summary": "Баланс кредитов",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Баланс", "schema": {"$ref": "#/definitions/response.Response"}},
                    "401": {"description": "Не авторизован", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "История сессий",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Страница истории", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Открыть сессию",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "schema": {"$ref": "#/definitions/models.DummySession"}}],
                "responses": {
                    "201": {"description": "Сессия открыта", "schema": {"$ref": "#/definitions/response.Response"}},
                    "402": {"description": "Кредиты закончились", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "429": {"description": "Слишком много запросов", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Состояние сессии",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Состояние сессии", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Сессия не найдена", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Завершить сессию",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Сессия завершена", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Сессия не найдена", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "409": {"description": "Сессия уже завершена или истекла", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Messages"],
                "summary": "Сообщения сессии",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Сообщения", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Сессия не найдена", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Messages"],
                "summary": "Добавить сообщение",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.DummyMessage"}}
                ],
                "responses": {
                    "201": {"description": "Сообщение сохранено", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Сессия не активна", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Account"],
                "summary": "Профиль пользователя",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Профиль", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "tags": ["Account"],
                "summary": "Изменение профиля",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.DummyProfileUpdate"}}],
                "responses": {
                    "200": {"description": "Профиль обновлён", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Пользователь не найден", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "422": {"description": "Ошибка валидации", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/me/password": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Account"],
                "summary": "Смена пароля",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.DummyPasswordChange"}}],
                "responses": {
                    "200": {"description": "Пароль изменён", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Неверный текущий пароль", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "422": {"description": "Ошибка валидации", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/me/history": {
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["Account"],
                "summary": "Хранение истории",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.DummyHistoryPreference"}}],
                "responses": {
                    "200": {"description": "Настройка обновлена", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        }
    },
    "definitions": {
        "models.DummyProfileUpdate": {
            "type": "object",
            "required": ["display_name"],
            "properties": {
                "display_name": {"type": "string", "maxLength": 100}
            }
        },
        "models.DummyPasswordChange": {
            "type": "object",
            "required": ["current_password", "new_password"],
            "properties": {
                "current_password": {"type": "string"},
                "new_password": {"type": "string", "minLength": 8, "maxLength": 72}
            }
        },
        "models.DummyUser": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string", "minLength": 8, "maxLength": 72},
                "display_name": {"type": "string"}
            }
        },
        "models.DummyLogin": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "models.DummySession": {
            "type": "object",
            "properties": {
                "expert_id": {"type": "string"}
            }
        },
        "models.DummyMessage": {
            "type": "object",
            "required": ["role", "content"],
            "properties": {
                "role": {"type": "string", "enum": ["user", "assistant"]},
                "content": {"type": "string", "maxLength": 20000}
            }
        },
        "models.DummyHistoryPreference": {
            "type": "object",
            "required": ["store_history"],
            "properties": {
                "store_history": {"type": "boolean"}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "code": {"type": "string"},
                "error": {"type": "string"},
                "data": {}
            }
        },
        "response.ErrorResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "Error"},
                "code": {"type": "string", "example": "token_expired"},
                "error": {"type": "string", "example": "invalid request body"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Session Gate API",
	Description:      "Доступ к платным сессиям: токены, кредиты, таймер сессий и хранение истории",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
